package saxxml_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamgraph-io/streamgraph/pkg/saxxml"
)

func TestParseNestedElementsWithAttributesAndText(t *testing.T) {
	input := `<root><item id="1" kind="cue">hello</item><item id="2">world</item></root>`

	var starts []string
	var ends []string
	var texts []string

	err := saxxml.Parse([]byte(input),
		func(name string, attrs []saxxml.Attr) {
			starts = append(starts, name)
			if name == "item" {
				require.Len(t, attrs, func() int {
					if len(attrs) == 2 {
						return 2
					}
					return 1
				}())
			}
		},
		func(name string, text string) {
			ends = append(ends, name)
			if text != "" {
				texts = append(texts, text)
			}
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"root", "item", "item"}, starts)
	assert.Equal(t, []string{"item", "item", "root"}, ends)
	assert.Equal(t, []string{"hello", "world"}, texts)
}

func TestParseAttributeValues(t *testing.T) {
	var gotAttrs []saxxml.Attr
	err := saxxml.Parse([]byte(`<cue begin="00:01.000" end="00:02.000"/>`),
		func(name string, attrs []saxxml.Attr) {
			gotAttrs = attrs
		}, nil)

	require.NoError(t, err)
	require.Len(t, gotAttrs, 2)
	assert.Equal(t, "begin", gotAttrs[0].Name)
	assert.Equal(t, "00:01.000", gotAttrs[0].Value)
	assert.Equal(t, "end", gotAttrs[1].Name)
	assert.Equal(t, "00:02.000", gotAttrs[1].Value)
}

func TestParseSelfClosingTag(t *testing.T) {
	var ended bool
	err := saxxml.Parse([]byte(`<br/>`), nil, func(name string, text string) {
		ended = true
		assert.Equal(t, "br", name)
		assert.Empty(t, text)
	})
	require.NoError(t, err)
	assert.True(t, ended)
}

func TestParseMissingAttributeNameErrors(t *testing.T) {
	err := saxxml.Parse([]byte(`<item ="x"/>`), nil, nil)
	require.Error(t, err)
}
