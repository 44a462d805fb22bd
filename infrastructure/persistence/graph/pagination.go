package graph

import (
	"context"

	"go.uber.org/zap"

	"github.com/Cix-16/opencti/domain/core/entities"
	"github.com/Cix-16/opencti/pkg/common"
	"github.com/Cix-16/opencti/pkg/errors"
	"github.com/Cix-16/opencti/pkg/graphdb"
	"github.com/Cix-16/opencti/pkg/utils"
)

// Paginate reads one page of a traversal. One row beyond the page size is
// fetched to decide hasNextPage; the total count is a separate aggregate
// run in the same read snapshot, only when args.WithCount is set.
func (r *Repository) Paginate(ctx context.Context, base graphdb.Traversal, args common.PaginationArgs, isRelationQuery bool) (*entities.Connection, error) {
	if err := utils.ValidateStruct(args); err != nil {
		return nil, err
	}
	window, err := args.Window(r.domain.DefaultPageSize, r.domain.MaxPageSize)
	if err != nil {
		return nil, err
	}

	query := base
	query.Filters = append(append([]graphdb.Filter(nil), base.Filters...), args.Filters...)
	query.OrderBy = window.OrderBy
	query.Descending = window.Descending
	query.Skip = window.Offset
	query.Limit = window.First + 1
	query.WithRelation = isRelationQuery

	pageStmt, err := graphdb.Traverse(query)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	var countStmt graphdb.Statement
	if args.WithCount {
		if countStmt, err = graphdb.Count(query); err != nil {
			return nil, errors.NewValidationError(err.Error())
		}
	}

	var records []graphdb.Record
	var total *int
	err = r.read(ctx, func(run graphdb.Runner) error {
		res, err := run.Run(ctx, pageStmt)
		if err != nil {
			return err
		}
		records = res.Records()

		if args.WithCount {
			res, err := run.Run(ctx, countStmt)
			if err != nil {
				return err
			}
			rec, _ := res.Single()
			n := int(rec.Int64(graphdb.KeyTotal))
			total = &n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	conn, err := r.buildConnection(records, window, isRelationQuery)
	if err != nil {
		return nil, err
	}
	conn.PageInfo.GlobalCount = total

	r.logger.Debug("page read",
		zap.String("label", base.Label),
		zap.Int("offset", window.Offset),
		zap.Int("edges", len(conn.Edges)),
		zap.Bool("has_next", conn.PageInfo.HasNextPage))
	return conn, nil
}

func (r *Repository) buildConnection(records []graphdb.Record, window common.PageWindow, isRelationQuery bool) (*entities.Connection, error) {
	hasNext := len(records) > window.First
	if hasNext {
		records = records[:window.First]
	}

	conn := &entities.Connection{
		Edges: make([]entities.Edge, 0, len(records)),
		PageInfo: entities.PageInfo{
			HasNextPage:     hasNext,
			HasPreviousPage: window.Offset > 0,
		},
	}

	for i, rec := range records {
		node, err := r.toEntity(rec.Map(graphdb.KeyNode))
		if err != nil {
			return nil, err
		}
		edge := entities.Edge{Node: node, Cursor: common.EncodeCursor(window.Offset + i)}
		if isRelationQuery {
			if edge.Relation, err = toRelation(rec); err != nil {
				return nil, err
			}
		}
		conn.Edges = append(conn.Edges, edge)
	}

	if n := len(conn.Edges); n > 0 {
		conn.PageInfo.StartCursor = conn.Edges[0].Cursor
		conn.PageInfo.EndCursor = conn.Edges[n-1].Cursor
	}
	return conn, nil
}
