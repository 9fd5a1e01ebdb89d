package bookops

import (
	"io"
	"strconv"
	"strings"
)

func stringsReader(s string) io.Reader { return strings.NewReader(s) }

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
