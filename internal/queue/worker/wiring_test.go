package worker

import (
	"github.com/shelfhub/shelfhub/internal/repo/postgres"
)

// the concrete Postgres repos must keep satisfying the worker's
// dependency surface, exactly as cmd/worker wires them
var (
	_ JobsRepository       = (*postgres.JobsRepo)(nil)
	_ DeliveriesRepository = (*postgres.NotificationDeliveriesRepo)(nil)
	_ UserDirectory        = (*postgres.UsersRepo)(nil)
	_ LoanReader           = (*postgres.LoansRepo)(nil)
)
