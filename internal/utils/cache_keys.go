package utils

import (
	"strconv"
	"strings"
)

func BuildBooksListCacheKey(limit, offset int, query, categoryID *string, onlyAvailable bool) string {
	q := ""
	if query != nil {
		q = strings.ToLower(strings.TrimSpace(*query))
	}
	c := ""
	if categoryID != nil {
		c = *categoryID
	}

	return "books:list:v1:limit=" + strconv.Itoa(limit) +
		":offset=" + strconv.Itoa(offset) +
		":q=" + q +
		":cat=" + c +
		":avail=" + strconv.FormatBool(onlyAvailable)
}

const UserStatsCacheKey = "users:stats:v1"
