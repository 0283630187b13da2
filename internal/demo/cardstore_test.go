package demo

import (
	"testing"

	"github.com/artemis-dev/artemis/internal/campaign"
)

func TestFileCardSource_FileCardThenShow(t *testing.T) {
	// Given: a fresh card store
	src, err := NewFileCardSource(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCardSource() error = %v", err)
	}

	// When: filing a new card and showing it back
	id, err := src.FileCard(campaign.CardInput{ParentID: "parent-1", Type: "task", Title: "fix the thing", Priority: 1})
	if err != nil {
		t.Fatalf("FileCard() error = %v", err)
	}
	info, err := src.Show(id)

	// Then: the shown card matches what was filed
	if err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	if info.Title != "fix the thing" || info.Priority != 1 {
		t.Errorf("Show() = %+v, want Title=fix the thing Priority=1", info)
	}
}

func TestFileCardSource_ReadyChildrenExcludesClosed(t *testing.T) {
	// Given: two children of the same parent, one closed
	src, err := NewFileCardSource(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCardSource() error = %v", err)
	}
	openID, _ := src.FileCard(campaign.CardInput{ParentID: "epic-1", Type: "task", Title: "open task"})
	closedID, _ := src.FileCard(campaign.CardInput{ParentID: "epic-1", Type: "task", Title: "closed task"})
	if err := src.Close(closedID); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// When: listing ready children of the parent
	children, err := src.ReadyChildren("epic-1")

	// Then: only the open one is returned
	if err != nil {
		t.Fatalf("ReadyChildren() error = %v", err)
	}
	if len(children) != 1 || children[0].ID != openID {
		t.Errorf("ReadyChildren() = %+v, want only %s", children, openID)
	}
}

func TestFileCardSource_ReadyChildrenIgnoresOtherParents(t *testing.T) {
	// Given: cards under two different parents
	src, err := NewFileCardSource(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCardSource() error = %v", err)
	}
	_, _ = src.FileCard(campaign.CardInput{ParentID: "epic-1", Type: "task", Title: "under epic 1"})
	_, _ = src.FileCard(campaign.CardInput{ParentID: "epic-2", Type: "task", Title: "under epic 2"})

	// When: listing ready children of epic-2
	children, err := src.ReadyChildren("epic-2")

	// Then: only epic-2's child is returned
	if err != nil {
		t.Fatalf("ReadyChildren() error = %v", err)
	}
	if len(children) != 1 || children[0].Title != "under epic 2" {
		t.Errorf("ReadyChildren() = %+v, want only epic-2's child", children)
	}
}

func TestFileCardSource_ShowMissingCardErrors(t *testing.T) {
	// Given: an empty card store
	src, err := NewFileCardSource(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileCardSource() error = %v", err)
	}

	// When: showing a card that was never filed
	_, err = src.Show("does-not-exist")

	// Then: an error is returned
	if err == nil {
		t.Fatal("Show() error = nil, want error for missing card")
	}
}
