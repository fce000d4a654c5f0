package memstore

import (
	"context"
	"testing"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
	"github.com/cognicore/tagstream/pkg/tagstream/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestRawMetadataSurfacesInDetails(t *testing.T) {
	ctx := context.Background()
	s := New()
	catID, _ := s.UpsertCategory(ctx, dictionary.Category{Name: "c", Active: true})
	termID, _ := s.UpsertTerm(ctx, dictionary.Term{CategoryID: catID, Text: "x", Active: true})

	if err := s.SetTermMetadataRaw(termID, []byte(`{broken`)); err != nil {
		t.Fatalf("SetTermMetadataRaw: %v", err)
	}

	terms, err := s.ListTerms(ctx)
	if err != nil {
		t.Fatalf("ListTerms: %v", err)
	}
	if len(terms) != 1 || terms[0].Metadata != nil {
		t.Fatalf("expected term without metadata, got %+v", terms)
	}
}
