package protocol

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"voxelmap.dev/internal/edit"
	"voxelmap.dev/internal/geom"
)

func TestNewDirtyChunksMsg_FiltersAndOrders(t *testing.T) {
	d := edit.DirtyChunks{
		Cycle:           3,
		EditedChunkKeys: []geom.Point3{geom.P(0, 0, 0), geom.P(5, 0, 0)},
		DirtyChunkKeys: map[geom.Point3]struct{}{
			geom.P(5, 0, 0): {},
			geom.P(1, 0, 0): {},
			geom.P(0, 0, 0): {},
		},
	}
	region := &Region{Min: [3]int{0, 0, 0}, Max: [3]int{1, 1, 1}}
	msg := NewDirtyChunksMsg(d, region)
	if msg.Type != TypeDirtyChunks || msg.Cycle != 3 {
		t.Fatalf("header: %+v", msg)
	}
	if diff := cmp.Diff([][3]int{{0, 0, 0}}, msg.Edited); diff != "" {
		t.Fatalf("edited (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][3]int{{0, 0, 0}, {1, 0, 0}}, msg.Dirty); diff != "" {
		t.Fatalf("dirty (-want +got):\n%s", diff)
	}

	far := &Region{Min: [3]int{10, 10, 10}, Max: [3]int{11, 11, 11}}
	if !NewDirtyChunksMsg(d, far).Empty() {
		t.Fatalf("expected no keys outside the region")
	}
}

func TestRegionValidate(t *testing.T) {
	if err := (Region{Min: [3]int{0, 1, 0}, Max: [3]int{0, 0, 0}}).Validate(); err == nil {
		t.Fatalf("expected inverted region rejected")
	}
	if err := (Region{Min: [3]int{-1, -1, -1}, Max: [3]int{1, 1, 1}}).Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
