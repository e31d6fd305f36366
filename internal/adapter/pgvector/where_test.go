package pgvector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pdfsearch/internal/vector"
)

func TestWhereClause(t *testing.T) {
	tests := []struct {
		name     string
		filter   vector.Filter
		wantSQL  string
		wantArgs []interface{}
	}{
		{"empty", nil, "", nil},
		{"file name", vector.Filter{vector.KeyFileName: "a.pdf"}, "WHERE file_name = $3", []interface{}{"a.pdf"}},
		{
			"both keys sorted",
			vector.Filter{vector.KeySource: vector.SourceUpload, vector.KeyFileName: "a.pdf"},
			"WHERE file_name = $3 AND source = $4",
			[]interface{}{"a.pdf", vector.SourceUpload},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := whereClause(tt.filter, 3)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}
