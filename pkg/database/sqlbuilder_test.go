package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnConflict(t *testing.T) {
	ib := NewInsertBuilder()
	ib.InsertInto("body_member_candidates")
	ib.Cols("id", "scope_id", "extracted_name", "extracted_role")
	ib.Values("c1", "body-1", "山田太郎", "委員")
	ub := ib.OnConflict("scope_id", "extracted_name")
	ub.Set(ub.Assign("extracted_role", Excluded("extracted_role")))

	query, args := ib.Build()

	assert.Contains(t, query, "INSERT INTO body_member_candidates")
	assert.Contains(t, query, "ON CONFLICT (scope_id, extracted_name) DO UPDATE")
	assert.Contains(t, query, "extracted_role = EXCLUDED.extracted_role")
	assert.Equal(t, []any{"c1", "body-1", "山田太郎", "委員"}, args)
}

func TestOnConflictDoNothing(t *testing.T) {
	ib := NewInsertBuilder()
	ib.InsertInto("politicians")
	ib.Cols("id", "name")
	ib.Values("p1", "山田太郎")
	ib.OnConflictDoNothing()

	query, _ := ib.Build()
	assert.Contains(t, query, "ON CONFLICT DO NOTHING")
}

func TestWithInsertedFlag(t *testing.T) {
	query := WithInsertedFlag("INSERT INTO t (a) VALUES ($1) ON CONFLICT (a) DO NOTHING", "id")
	assert.Equal(t, "WITH upsert AS (INSERT INTO t (a) VALUES ($1) ON CONFLICT (a) DO NOTHING RETURNING id, (xmax = 0) AS inserted) SELECT * FROM upsert", query)
}
