// Package segment turns stored segment rules into SQL predicates over a
// list's subscribers, safe for parameterized execution.
package segment

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"mailcast/internal/domain"
)

type Store interface {
	GetSegment(ctx context.Context, id int) (domain.Segment, bool, error)
}

type Resolver struct {
	Store Store
}

// Resolve compiles the segment's rule set into a WHERE fragment plus bound
// values. A zero segment id means "whole list": empty clause, no values.
// Placeholders are numbered from argOffset+1 so the caller can splice the
// fragment into a query that already binds argOffset values.
func (r *Resolver) Resolve(ctx context.Context, segmentID, argOffset int) (string, []any, error) {
	if segmentID == 0 {
		return "", nil, nil
	}
	seg, found, err := r.Store.GetSegment(ctx, segmentID)
	if err != nil {
		return "", nil, err
	}
	if !found {
		return "", nil, fmt.Errorf("segment %d: %w", segmentID, domain.ErrNotFound)
	}
	return Compile(seg, argOffset)
}

var fieldKeyRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// Compile builds the predicate for one segment. Base subscriber columns are
// addressed directly; anything else is looked up in the fields jsonb column.
func Compile(seg domain.Segment, argOffset int) (string, []any, error) {
	var conds []string
	var args []any
	n := argOffset

	for _, rule := range seg.Rules {
		expr, err := columnExpr(rule.Field)
		if err != nil {
			return "", nil, fmt.Errorf("segment %d: %w", seg.ID, err)
		}

		switch rule.Op {
		case "eq":
			n++
			conds = append(conds, fmt.Sprintf("%s = $%d", expr, n))
			args = append(args, rule.Value)
		case "ne":
			n++
			conds = append(conds, fmt.Sprintf("COALESCE(%s, '') <> $%d", expr, n))
			args = append(args, rule.Value)
		case "like":
			n++
			conds = append(conds, fmt.Sprintf("%s ILIKE $%d", expr, n))
			args = append(args, rule.Value)
		case "gt":
			n++
			conds = append(conds, fmt.Sprintf("(%s)::numeric > $%d::numeric", expr, n))
			args = append(args, rule.Value)
		case "lt":
			n++
			conds = append(conds, fmt.Sprintf("(%s)::numeric < $%d::numeric", expr, n))
			args = append(args, rule.Value)
		case "set":
			conds = append(conds, fmt.Sprintf("COALESCE(%s, '') <> ''", expr))
		default:
			return "", nil, fmt.Errorf("segment %d: unsupported rule op %q", seg.ID, rule.Op)
		}
	}

	if len(conds) == 0 {
		return "", nil, nil
	}

	join := " AND "
	if seg.MatchType == "any" {
		join = " OR "
	}
	return strings.Join(conds, join), args, nil
}

func columnExpr(field string) (string, error) {
	switch field {
	case "email", "first_name", "last_name", "status":
		return "s." + field, nil
	}
	if !fieldKeyRe.MatchString(field) {
		return "", fmt.Errorf("invalid rule field %q", field)
	}
	return fmt.Sprintf("s.fields->>'%s'", field), nil
}
