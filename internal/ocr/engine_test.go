package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitLines(t *testing.T) {
	got := SplitLines("Hemoglobin: 13.2 g/dL\r\n\n  WBC: 6.1  \n\n")
	assert.Equal(t, []string{"Hemoglobin: 13.2 g/dL", "WBC: 6.1"}, got)
}

func TestSplitLinesEmpty(t *testing.T) {
	got := SplitLines(" \n\n")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestParseLanguages(t *testing.T) {
	assert.Equal(t, []string{"eng", "ind"}, ParseLanguages("eng+ind"))
	assert.Equal(t, []string{"eng", "deu"}, ParseLanguages("eng, deu"))
	assert.Nil(t, ParseLanguages(""))
}
