package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	table := []struct {
		input    string
		expected string
	}{
		{input: "plain", expected: "plain"},
		{input: "  \tpadded\n", expected: "padded"},
		{input: "inner    whitespace\n\n here", expected: "inner whitespace here"},
		{input: "bell\acharacter", expected: "bellcharacter"},
	}

	for _, row := range table {
		require.Equal(t, row.expected, CleanText(row.input))
	}
}

func TestFirstText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div><h3>  The item is <b>no longer</b>  available. </h3><h3>second</h3></div>`,
	))
	require.NoError(t, err)

	require.Equal(t, "The item is no longer available.", FirstText(doc.Find("h3")))
	require.Equal(t, "", FirstText(doc.Find("h4")))
}
