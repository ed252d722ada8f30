package store

import (
	"errors"
	"io"
	"log"
	"regexp"
	"testing"
	"time"

	"leadpixel/models"
	"leadpixel/scoring"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// The merge statements are Postgres-specific (GREATEST, CASE arithmetic), so
// these tests assert the generated statements and call sequences against a
// mocked connection instead of executing them.
func newMockStore(t *testing.T) (*VisitorStore, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return NewVisitorStore(gdb, log.New(io.Discard, "", 0)), mock
}

var visitorColumns = []string{
	"id", "pixel_id", "visitor_id", "email",
	"total_pageviews", "total_sessions", "total_time_on_site",
	"max_scroll_depth", "total_clicks", "form_submit_count",
	"lead_score", "is_identified", "is_enriched",
}

func visitorRow(id uint, visitorID string, pv, sess, timeOn, scroll, clicks, forms, score int) *sqlmock.Rows {
	return sqlmock.NewRows(visitorColumns).
		AddRow(id, 1, visitorID, "", pv, sess, timeOn, scroll, clicks, forms, score, false, false)
}

func testPixel() *models.Pixel {
	return &models.Pixel{Model: gorm.Model{ID: 1}, Code: "px_a", Status: models.PixelStatusActive}
}

func TestApplyEventSessionIncrementIsConditionalOnGap(t *testing.T) {
	vs, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "visitors" WHERE pixel_id`)).
		WillReturnRows(visitorRow(9, "v1", 1, 1, 0, 0, 0, 0, 7))

	// One atomic statement: the session counter advances only when the
	// stored last_seen_at is older than the cutoff (now minus the timeout),
	// so a gap within the window leaves total_sessions unchanged and a
	// longer one adds exactly 1 regardless of interleaving.
	mock.ExpectExec(`UPDATE "visitors" SET .*total_sessions \+ CASE WHEN last_seen_at IS NULL OR last_seen_at < \$\d+ THEN 1 ELSE 0 END`).
		WithArgs(now, 1, now.Add(-SessionTimeout), now, 9).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "visitors" WHERE "visitors"."id"`)).
		WillReturnRows(visitorRow(9, "v1", 2, 1, 0, 0, 0, 0, 9))

	visitor, err := vs.ApplyEvent(testPixel(), "v1", Event{Type: models.EventPageview}, now, scoring.Options{})
	require.NoError(t, err)
	assert.Equal(t, 9, visitor.LeadScore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyEventMergesScrollAndTimeWithGreatest(t *testing.T) {
	vs, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "visitors" WHERE pixel_id`)).
		WillReturnRows(visitorRow(9, "v1", 1, 1, 90, 80, 0, 0, 23))

	// GREATEST keeps the stored floor: a heartbeat reporting less scroll
	// than the row already holds can never pull the counters down.
	mock.ExpectExec(`UPDATE "visitors" SET .*GREATEST\(max_scroll_depth, \$\d+\).*GREATEST\(total_time_on_site, \$\d+\)`).
		WithArgs(now, 60, now.Add(-SessionTimeout), 120, now, 9).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "visitors" WHERE "visitors"."id"`)).
		WillReturnRows(visitorRow(9, "v1", 1, 1, 120, 80, 0, 0, 23))

	visitor, err := vs.ApplyEvent(testPixel(), "v1",
		Event{Type: models.EventHeartbeat, ScrollDepth: 60, TimeOnPage: 120}, now, scoring.Options{})
	require.NoError(t, err)
	assert.Equal(t, 80, visitor.MaxScrollDepth)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyEventCreateSeedsSessionAndBaseScore(t *testing.T) {
	vs, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "visitors" WHERE pixel_id`)).
		WillReturnRows(sqlmock.NewRows(visitorColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "visitors"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))

	visitor, err := vs.ApplyEvent(testPixel(), "v1", Event{Type: models.EventPageview}, now, scoring.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, visitor.TotalSessions)
	assert.Equal(t, 1, visitor.TotalPageviews)
	assert.Equal(t, scoring.BaseScore, visitor.LeadScore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyEventLostCreateRaceFallsThroughToUpdate(t *testing.T) {
	vs, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "visitors" WHERE pixel_id`)).
		WillReturnRows(sqlmock.NewRows(visitorColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "visitors"`)).
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "idx_visitors_pixel_visitor" (SQLSTATE 23505)`))

	// The concurrent winner's row is picked up and merged into instead.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "visitors" WHERE pixel_id`)).
		WillReturnRows(visitorRow(9, "v1", 1, 1, 0, 0, 0, 0, 7))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "visitors" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "visitors" WHERE "visitors"."id"`)).
		WillReturnRows(visitorRow(9, "v1", 2, 1, 0, 0, 0, 0, 9))

	visitor, err := vs.ApplyEvent(testPixel(), "v1", Event{Type: models.EventPageview}, now, scoring.Options{})
	require.NoError(t, err)
	assert.Equal(t, uint(9), visitor.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSingleVisitSequenceScoresTwelve(t *testing.T) {
	// One visit: a pageview, one click, 120 seconds on page.
	vs, mock := newMockStore(t)
	now := time.Now()

	// Pageview creates the row.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "visitors" WHERE pixel_id`)).
		WillReturnRows(sqlmock.NewRows(visitorColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "visitors"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))

	// Click adds one to total_clicks.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "visitors" WHERE pixel_id`)).
		WillReturnRows(visitorRow(9, "v1", 1, 1, 0, 0, 0, 0, 5))
	mock.ExpectExec(`UPDATE "visitors" SET .*total_clicks \+ \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "visitors" WHERE "visitors"."id"`)).
		WillReturnRows(visitorRow(9, "v1", 1, 1, 0, 0, 1, 0, 8))

	// Heartbeat carries the cumulative 120s.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "visitors" WHERE pixel_id`)).
		WillReturnRows(visitorRow(9, "v1", 1, 1, 0, 0, 1, 0, 8))
	mock.ExpectExec(`UPDATE "visitors" SET .*GREATEST\(total_time_on_site, \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "visitors" WHERE "visitors"."id"`)).
		WillReturnRows(visitorRow(9, "v1", 1, 1, 120, 0, 1, 0, 12))

	visitor, err := vs.ApplyEvent(testPixel(), "v1", Event{Type: models.EventPageview}, now, scoring.Options{})
	require.NoError(t, err)
	assert.Equal(t, scoring.BaseScore, visitor.LeadScore)

	visitor, err = vs.ApplyEvent(testPixel(), "v1", Event{Type: models.EventClick}, now, scoring.Options{})
	require.NoError(t, err)
	assert.Equal(t, 8, visitor.LeadScore)

	visitor, err = vs.ApplyEvent(testPixel(), "v1",
		Event{Type: models.EventHeartbeat, TimeOnPage: 120}, now, scoring.Options{})
	require.NoError(t, err)

	// 1 pageview (2) + 1 session (5) + 120s (4) + 1 click (1) = 12.
	assert.Equal(t, 12, visitor.LeadScore)
	assert.Equal(t, 12, scoring.CalculateLeadScore(visitor.Counters(), false, false, scoring.Options{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeIdentityNeverClearsStoredValues(t *testing.T) {
	vs, mock := newMockStore(t)
	now := time.Now()

	// Only the non-empty incoming attribute appears in the SET list; the
	// stored first_name is untouched because the column is absent entirely.
	mock.ExpectExec(`UPDATE "visitors" SET "company"=\$1,"updated_at"=\$2 WHERE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := vs.MergeIdentity(&models.Visitor{Model: gorm.Model{ID: 9}},
		IdentityAttrs{Company: "NewCo", FirstName: ""}, now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentifySetsIdentifiedAtOnlyOnce(t *testing.T) {
	vs, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE "visitors" SET .*COALESCE\(identified_at, \$\d+\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := vs.Identify(&models.Visitor{Model: gorm.Model{ID: 9}}, "Ada@Acme.com", now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEnrichedOnlyTouchesUnenrichedRows(t *testing.T) {
	vs, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE "visitors" SET .* WHERE id = \$\d+ AND is_enriched = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := vs.MarkEnriched(9, "ip_lookup", `{"company":"Acme"}`, now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
