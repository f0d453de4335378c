package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestParseVariables(t *testing.T) {
	vars := ParseVariables("Hi {{first_name}}, {{ last_name | friend }} {{first_name}} {{ unsubscribe_url }}")
	assert.Equal(t, []string{"first_name", "last_name", "unsubscribe_url"}, vars)
	assert.Empty(t, ParseVariables("no placeholders { here }"))
}

func TestReplaceVariables(t *testing.T) {
	vars := map[string]string{"first_name": "Ada", "company": "<Acme & Co>"}

	tests := []struct {
		name   string
		input  string
		escape bool
		want   string
	}{
		{"tight", "Hi {{first_name}}", false, "Hi Ada"},
		{"spaced", "Hi {{  first_name   }}!", false, "Hi Ada!"},
		{"default used", "Hi {{ last_name | there }}", false, "Hi there"},
		{"default ignored", "Hi {{ first_name | there }}", false, "Hi Ada"},
		{"unknown empty", "[{{ missing }}]", false, "[]"},
		{"escaped", "<b>{{ company }}</b>", true, "<b>&lt;Acme &amp; Co&gt;</b>"},
		{"not escaped", "{{ company }}", false, "<Acme & Co>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReplaceVariables(tt.input, vars, tt.escape))
		})
	}
}

func TestJSONToMap(t *testing.T) {
	m, err := JSONToMap(datatypes.JSON(`{"city":"Riga","age":42,"vip":true}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"city": "Riga", "age": "42", "vip": "true"}, m)

	m, err = JSONToMap(nil)
	require.NoError(t, err)
	assert.Empty(t, m)

	_, err = JSONToMap(datatypes.JSON(`[1,2]`))
	assert.Error(t, err)
}
