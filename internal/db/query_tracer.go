package db

import (
	"context"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5"
)

type querySpanKey struct{}

// queryTracer reports each statement as a child span of the caller's
// transaction, if there is one.
type queryTracer struct{}

func newQueryTracer() *queryTracer {
	return &queryTracer{}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if sentry.SpanFromContext(ctx) == nil {
		return ctx
	}

	statement := compactStatement(data.SQL)
	span := sentry.StartSpan(
		ctx,
		"db.sql.query",
		sentry.WithDescription(statement),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	span.SetData("db.system", "postgresql")
	if verb := statementVerb(statement); verb != "" {
		span.SetData("db.operation", verb)
	}
	if table := statementTable(statement); table != "" {
		span.SetData("db.collection.name", table)
	}

	return context.WithValue(span.Context(), querySpanKey{}, span)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, _ := ctx.Value(querySpanKey{}).(*sentry.Span)
	if span == nil {
		return
	}

	span.Status = sentry.SpanStatusOK
	if data.Err != nil {
		span.Status = sentry.SpanStatusInternalError
		span.SetData("db.error", data.Err.Error())
	}
	span.SetData("db.rows_affected", data.CommandTag.RowsAffected())
	span.Finish()
}

func compactStatement(statement string) string {
	compact := strings.Join(strings.Fields(statement), " ")
	if compact == "" {
		return "sql.query"
	}
	const maxLen = 512
	if len(compact) > maxLen {
		return compact[:maxLen]
	}
	return compact
}

func statementVerb(statement string) string {
	fields := strings.Fields(statement)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// statementTable returns the first table named after FROM, INTO or UPDATE.
func statementTable(statement string) string {
	fields := strings.Fields(statement)
	for i := 0; i < len(fields)-1; i++ {
		switch strings.ToUpper(fields[i]) {
		case "FROM", "INTO", "UPDATE":
			return strings.Trim(fields[i+1], "(),;")
		}
	}
	return ""
}
