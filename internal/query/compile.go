// Package query compiles user-supplied search expressions into
// parameterized SQL. Every dynamic value passes through a parameter slot;
// the compiler never concatenates user input into the statement text.
package query

import (
	"fmt"
	"strings"
)

// Params carries the caller context a compilation depends on.
type Params struct {
	Expression string
	MinOffset  int // client timezone offset, minutes
	Moderator  bool
	ListAll    bool  // moderator requested every user's uploads
	UserID     int64 // scope for non-all listings; 0 = anonymous
	AlbumID    int64 // >0 when listing inside one album
	PageSize   int
}

// Compiled is a WHERE fragment, its arguments and an ORDER BY clause ready
// for Queries.ListFilesWhere.
type Compiled struct {
	Where string
	Args  []any
	Order string
}

// QuotaError marks a role-cap violation; it renders as a 400.
type QuotaError struct{ msg string }

func (e *QuotaError) Error() string { return e.msg }

var isSuffixes = map[string][]string{
	"image": {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp", ".svg"},
	"video": {".mp4", ".webm", ".mkv", ".avi", ".mov", ".m4v"},
	"audio": {".mp3", ".ogg", ".flac", ".wav", ".m4a", ".opus"},
}

// Compile parses and compiles the expression under the caller's role caps.
func Compile(p Params) (*Compiled, error) {
	f, err := parse(p.Expression, p.MinOffset)
	if err != nil {
		return nil, err
	}
	if err := enforceCaps(f, p.Moderator); err != nil {
		return nil, err
	}
	if err := enforceVisibility(f, p); err != nil {
		return nil, err
	}
	return emit(f, p)
}

func enforceCaps(f *filter, moderator bool) error {
	if moderator {
		return nil
	}
	if n := len(f.text) + len(f.textEx); n > MaxTextQueries {
		return &QuotaError{fmt.Sprintf("You may only use %d text queries per search.", MaxTextQueries)}
	}
	for _, vs := range [][]string{f.typeIn, f.typeEx, f.ipIn, f.ipEx, f.userIn, f.userEx} {
		for _, v := range vs {
			if wildcardCount(v) > MaxWildcardsInKey {
				return &QuotaError{fmt.Sprintf("You may only use %d wildcards per key.", MaxWildcardsInKey)}
			}
		}
	}
	if len(f.sorts) > MaxSortKeys {
		return &QuotaError{fmt.Sprintf("You may only use %d sort keys per search.", MaxSortKeys)}
	}
	if len(f.isIn)+len(f.isEx) > MaxIsKeys {
		return &QuotaError{fmt.Sprintf("You may only use %d is: keys per search.", MaxIsKeys)}
	}
	return nil
}

func enforceVisibility(f *filter, p Params) error {
	allMod := p.ListAll && p.Moderator
	if !allMod {
		if len(f.userIn)+len(f.userEx) > 0 || f.userNull || f.userNotNil {
			return fmt.Errorf("user: filters require moderator access")
		}
		if len(f.ipIn)+len(f.ipEx) > 0 || f.ipNull || f.ipNotNil {
			return fmt.Errorf("ip: filters require moderator access")
		}
		for _, s := range f.sorts {
			if s.column == "ip" || s.column == "userid" {
				return fmt.Errorf("sorting by %s requires moderator access", s.column)
			}
		}
	}
	if p.AlbumID > 0 {
		// Inside one album the albumid dimension is fixed.
		f.albumIn = nil
		f.albumEx = nil
		f.albumNull = false
		f.albumNotNil = false
	}
	return nil
}

// escapeLike escapes LIKE metacharacters the user typed literally, then
// translates glob wildcards into their SQL forms.
func escapeLike(glob string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	escaped := r.Replace(glob)
	escaped = strings.ReplaceAll(escaped, "*", "%")
	escaped = strings.ReplaceAll(escaped, "?", "_")
	return escaped
}

func emit(f *filter, p Params) (*Compiled, error) {
	var conds []string
	var args []any

	// Owner scope.
	allMod := p.ListAll && p.Moderator
	if !allMod {
		if p.UserID > 0 {
			conds = append(conds, "userid = ?")
			args = append(args, p.UserID)
		} else {
			conds = append(conds, "userid IS NULL")
		}
	} else {
		// Exclusion takes precedence over inclusion on conflict.
		switch {
		case f.userNotNil:
			conds = append(conds, "userid IS NOT NULL")
		case f.userNull:
			conds = append(conds, "userid IS NULL")
		}
		if len(f.userIn) > 0 {
			ph := placeholders(len(f.userIn))
			conds = append(conds, "userid IN (SELECT id FROM users WHERE username IN ("+ph+"))")
			for _, u := range f.userIn {
				args = append(args, u)
			}
		}
		if len(f.userEx) > 0 {
			ph := placeholders(len(f.userEx))
			conds = append(conds, "(userid IS NULL OR userid NOT IN (SELECT id FROM users WHERE username IN ("+ph+")))")
			for _, u := range f.userEx {
				args = append(args, u)
			}
		}
	}

	// Album scope.
	if p.AlbumID > 0 {
		conds = append(conds, "albumid = ?")
		args = append(args, p.AlbumID)
	} else {
		switch {
		case f.albumNotNil:
			conds = append(conds, "albumid IS NOT NULL")
		case f.albumNull:
			conds = append(conds, "albumid IS NULL")
		}
		if len(f.albumIn) > 0 {
			conds = append(conds, "albumid IN ("+placeholders(len(f.albumIn))+")")
			for _, id := range f.albumIn {
				args = append(args, id)
			}
		}
		if len(f.albumEx) > 0 {
			conds = append(conds, "(albumid IS NULL OR albumid NOT IN ("+placeholders(len(f.albumEx))+"))")
			for _, id := range f.albumEx {
				args = append(args, id)
			}
		}
	}

	// Date and expiry ranges.
	for _, rc := range []struct {
		col string
		r   *rangeBound
	}{{"timestamp", f.date}, {"expirydate", f.expiry}} {
		if rc.r == nil {
			continue
		}
		if rc.r.from != 0 {
			conds = append(conds, rc.col+" >= ?")
			args = append(args, rc.r.from)
		}
		if rc.r.to != 0 {
			conds = append(conds, rc.col+" <= ?")
			args = append(args, rc.r.to)
		}
	}

	// is: classes match on name suffix.
	for _, class := range f.isIn {
		var parts []string
		for _, suffix := range isSuffixes[class] {
			parts = append(parts, `name LIKE ? ESCAPE '\'`)
			args = append(args, `%`+escapeLike(suffix))
		}
		conds = append(conds, "("+strings.Join(parts, " OR ")+")")
	}
	for _, class := range f.isEx {
		var parts []string
		for _, suffix := range isSuffixes[class] {
			parts = append(parts, `name NOT LIKE ? ESCAPE '\'`)
			args = append(args, `%`+escapeLike(suffix))
		}
		conds = append(conds, "("+strings.Join(parts, " AND ")+")")
	}

	// MIME type terms.
	for _, t := range f.typeIn {
		conds = append(conds, `type LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(t))
	}
	for _, t := range f.typeEx {
		conds = append(conds, `type NOT LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(t))
	}

	// IP terms (moderator only; enforced above).
	switch {
	case f.ipNotNil:
		conds = append(conds, "ip IS NOT NULL")
	case f.ipNull:
		conds = append(conds, "ip IS NULL")
	}
	for _, ip := range f.ipIn {
		conds = append(conds, `ip LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(ip))
	}
	for _, ip := range f.ipEx {
		conds = append(conds, `(ip IS NULL OR ip NOT LIKE ? ESCAPE '\')`)
		args = append(args, escapeLike(ip))
	}

	// Open text terms match name and original.
	for _, t := range f.text {
		conds = append(conds, `(name LIKE ? ESCAPE '\' OR original LIKE ? ESCAPE '\')`)
		pattern := "%" + escapeLike(t) + "%"
		args = append(args, pattern, pattern)
	}
	for _, t := range f.textEx {
		conds = append(conds, `(name NOT LIKE ? ESCAPE '\' AND original NOT LIKE ? ESCAPE '\')`)
		pattern := "%" + escapeLike(t) + "%"
		args = append(args, pattern, pattern)
	}

	return &Compiled{
		Where: strings.Join(conds, " AND "),
		Args:  args,
		Order: orderClause(f.sorts),
	}, nil
}

var nullableColumns = map[string]bool{
	"expirydate": true,
	"userid":     true,
	"albumid":    true,
	"ip":         true,
}

func orderClause(sorts []sortKey) string {
	if len(sorts) == 0 {
		return "id DESC"
	}
	parts := make([]string, 0, len(sorts))
	for _, s := range sorts {
		col := s.column
		if col == "size" {
			col = "CAST(size AS INTEGER)"
		}
		dir := "ASC"
		if s.desc {
			dir = "DESC"
		}
		clause := col + " " + dir
		if nullableColumns[s.column] {
			clause += " NULLS LAST"
		}
		parts = append(parts, clause)
	}
	return strings.Join(parts, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// PageOffset resolves a possibly negative page number to a row offset.
// Negative pages address from the tail of the result set.
func PageOffset(count int64, page, pageSize int) int {
	if page >= 0 {
		return page * pageSize
	}
	last := int((count + int64(pageSize) - 1) / int64(pageSize))
	p := last + page
	if p < 0 {
		p = 0
	}
	return p * pageSize
}
