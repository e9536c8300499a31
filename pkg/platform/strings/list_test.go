package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", nil},
		{"only separators", " , ,", nil},
		{"trims and dedupes", " k1:9092, k2:9092,,k1:9092", []string{"k1:9092", "k2:9092"}},
		{"case is kept", "A,a", []string{"A", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitList(tt.raw))
		})
	}
}

func TestSplitListFold(t *testing.T) {
	assert.Equal(t, []string{"nl", "org"}, SplitListFold(".NL, org, nl"))
	assert.Nil(t, SplitListFold(" . "))
}
