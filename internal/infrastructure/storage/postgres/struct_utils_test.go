package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"stockflow/internal/core/id"
	"stockflow/internal/core/types"
	"stockflow/internal/domain/inventory"
	"stockflow/internal/domain/sales"
)

func TestExtractDBColumns_Batch(t *testing.T) {
	cols := ExtractDBColumns[inventory.Batch]()

	assert.Equal(t, []string{
		"id", "product_id", "variant_id", "quantity", "unit_cost",
		"expires_at", "lot_number", "shelf_location", "created_at",
	}, cols)
}

type stamped struct {
	CreatedAt time.Time `db:"created_at"`
}

type withEmbedded struct {
	stamped
	Name    string `db:"name"`
	Ignored string `db:"-"`
	NoTag   string
}

func TestExtractDBColumns_Embedded(t *testing.T) {
	assert.Equal(t, []string{"created_at", "name"}, ExtractDBColumns[withEmbedded]())
}

func TestStructToMap_LineAllocation(t *testing.T) {
	now := time.Now().UTC()
	row := sales.LineAllocation{
		ID:         id.New(),
		DocumentID: id.New(),
		LineItemID: id.New(),
		BatchID:    id.New(),
		Quantity:   3,
		UnitCost:   types.MustMoney("12.5"),
		CreatedAt:  now,
	}

	m := StructToMap(&row)

	assert.Equal(t, row.ID, m["id"])
	assert.Equal(t, row.BatchID, m["batch_id"])
	assert.Equal(t, int64(3), m["quantity"])
	assert.Equal(t, row.UnitCost, m["unit_cost"])
	assert.Equal(t, now, m["created_at"])
	assert.Nil(t, m["reversed_at"])
	assert.Len(t, m, 8)
}

func TestStructToMap_NotAStruct(t *testing.T) {
	assert.Nil(t, StructToMap(42))
}
