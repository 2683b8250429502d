package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyJQ(t *testing.T) {
	input := map[string]interface{}{
		"address": "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK",
		"count":   3,
		"nodes": []map[string]interface{}{
			{"address": "a", "transaction_count": 5},
			{"address": "b", "transaction_count": 1},
		},
	}

	tests := []struct {
		name      string
		filter    string
		want      string
		expectErr bool
	}{
		{
			name:   "string results print raw",
			filter: ".address",
			want:   "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK\n",
		},
		{
			name:   "numbers print as JSON",
			filter: ".count",
			want:   "3\n",
		},
		{
			name:   "one line per result",
			filter: ".nodes[].address",
			want:   "a\nb\n",
		},
		{
			name:   "objects print compact",
			filter: `.nodes | map(select(.transaction_count > 1)) | first`,
			want:   `{"address":"a","transaction_count":5}` + "\n",
		},
		{
			name:      "invalid filter",
			filter:    ".nodes[",
			expectErr: true,
		},
		{
			name:      "runtime error",
			filter:    `error("boom")`,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := applyJQ(&buf, tt.filter, input)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
