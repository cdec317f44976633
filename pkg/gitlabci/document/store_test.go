package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenAndGet(t *testing.T) {
	s := New(zap.NewNop(), nil)
	doc := s.Open("file:///a.yml", "build:\n  stage: test\n", 1, KindOpen)
	require.Equal(t, 1, doc.Version)
	assert.Same(t, doc, s.Get("file:///a.yml"), "Get did not return the just-opened document")
}

func TestChangeRejectsNonMonotonicVersion(t *testing.T) {
	s := New(zap.NewNop(), nil)
	s.Open("file:///a.yml", "a: 1\n", 5, KindOpen)

	assert.Error(t, s.Change("file:///a.yml", "a: 2\n", 5), "expected an error for a non-advancing version")
	assert.Error(t, s.Change("file:///a.yml", "a: 2\n", 3), "expected an error for a regressing version")
	require.NoError(t, s.Change("file:///a.yml", "a: 2\n", 6), "expected version 6 to be accepted")
	assert.Equal(t, 6, s.Get("file:///a.yml").Version)
}

func TestCloseRemovesDocument(t *testing.T) {
	s := New(zap.NewNop(), nil)
	s.Open("file:///a.yml", "a: 1\n", 1, KindOpen)
	s.Close("file:///a.yml")
	assert.Nil(t, s.Get("file:///a.yml"), "expected Get to return nil after Close")
}

func TestInvalidationCallbackFiresOnOpenChangeAndClose(t *testing.T) {
	var notified []string
	s := New(zap.NewNop(), func(uri string) { notified = append(notified, uri) })

	s.Open("file:///a.yml", "a: 1\n", 1, KindOpen)
	s.Change("file:///a.yml", "a: 2\n", 2)
	s.Close("file:///a.yml")

	want := []string{"file:///a.yml", "file:///a.yml", "file:///a.yml"}
	require.Len(t, notified, len(want))
}

func TestGetSpanUnknownURI(t *testing.T) {
	s := New(zap.NewNop(), nil)
	span := s.GetSpan("file:///missing.yml", 0, 0)
	assert.Equal(t, "file:///missing.yml", span.URI, "expected span URI to be preserved")
	assert.Zero(t, span.StartByte)
	assert.Zero(t, span.EndByte)
}
