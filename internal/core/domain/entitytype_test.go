package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityTypeDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		desc    EntityTypeDescriptor
		wantErr bool
	}{
		{name: "valid", desc: EntityTypeDescriptor{ID: "catalog:product", BaseTable: "catalog_products"}},
		{name: "missing module", desc: EntityTypeDescriptor{ID: "product", BaseTable: "products"}, wantErr: true},
		{name: "uppercase id", desc: EntityTypeDescriptor{ID: "Catalog:Product", BaseTable: "products"}, wantErr: true},
		{name: "table injection", desc: EntityTypeDescriptor{ID: "catalog:product", BaseTable: "p; DROP TABLE x"}, wantErr: true},
		{name: "bad id column", desc: EntityTypeDescriptor{ID: "catalog:product", BaseTable: "p", IDColumn: "id)"}, wantErr: true},
		{name: "bad type column", desc: EntityTypeDescriptor{ID: "catalog:product", BaseTable: "p", TypeColumn: "a b"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEntityTypeDescriptor_Defaults(t *testing.T) {
	d := EntityTypeDescriptor{ID: "catalog:product"}
	assert.Equal(t, "catalog", d.Module())
	assert.Equal(t, "id", d.PrimaryKey())

	d.IDColumn = "sku"
	assert.Equal(t, "sku", d.PrimaryKey())
}

func TestDynamicDescriptor(t *testing.T) {
	d := DynamicDescriptor("crm:lead", "Lead")
	assert.NoError(t, d.Validate())
	assert.True(t, d.Dynamic)
	assert.Equal(t, CustomRecordsTable, d.BaseTable)
	assert.Equal(t, "record_id", d.PrimaryKey())
	assert.Equal(t, "entity_type", d.TypeColumn)
	assert.True(t, d.HasOrgColumn && d.HasTenantColumn && d.HasSoftDeleteColumn)
}

func TestEntityTypeDescriptor_RecordScope(t *testing.T) {
	row := map[string]any{"id": "1", "organization_id": "o1", "tenant_id": []byte("t1")}

	scoped := EntityTypeDescriptor{ID: "catalog:product", HasOrgColumn: true, HasTenantColumn: true}
	assert.Equal(t, Scope{TenantID: "t1", OrganizationID: "o1"}, scoped.RecordScope(row))
	assert.Equal(t, Scope{}, scoped.RecordScope(map[string]any{"organization_id": nil}))

	// Columns the table lacks are ignored even when the row carries them.
	global := EntityTypeDescriptor{ID: "catalog:product"}
	assert.Equal(t, Scope{}, global.RecordScope(row))
}
