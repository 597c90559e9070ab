package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/graphnode/gnsync/internal/store/schema"
	"github.com/graphnode/gnsync/internal/ui"
)

func TestRenderFolderTree(t *testing.T) {
	ui.SetColor(false)
	now := time.Now()
	id := func(s string) *string { return &s }

	folders := []*schema.Folder{
		{ID: "a", Name: "Alpha", CreatedAt: now, UpdatedAt: now},
		{ID: "b", Name: "Beta", ParentID: id("a"), CreatedAt: now, UpdatedAt: now},
		{ID: "c", Name: "Gamma", ParentID: id("b"), CreatedAt: now, UpdatedAt: now},
		{ID: "d", Name: "Orphan", ParentID: id("missing"), CreatedAt: now, UpdatedAt: now},
	}

	want := "Alpha a\n" +
		"  Beta b\n" +
		"    Gamma c\n" +
		"Orphan d\n"
	assert.Equal(t, want, renderFolderTree(folders))
}
