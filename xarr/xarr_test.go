package xarr

import (
	"bytes"
	"testing"

	"github.com/ziw-liu/iohub/zarr"
)

// testBase builds a (3, 2, 2, 2) uint8 array where every plane is filled
// with a value encoding its (t, z) coordinates.
func testBase(t *testing.T) *zarr.Array {
	t.Helper()
	a, err := zarr.Zeros(zarr.Spec{
		Shape:  []int{3, 2, 2, 2},
		Chunks: []int{1, 1, 2, 2},
		DType:  zarr.Uint8,
	})
	if err != nil {
		t.Fatalf("Zeros failed: %v", err)
	}
	for ti := 0; ti < 3; ti++ {
		for zi := 0; zi < 2; zi++ {
			fill := byte(10*ti + zi)
			if err := a.SetPlane([]int{ti, zi}, bytes.Repeat([]byte{fill}, 4)); err != nil {
				t.Fatalf("SetPlane(%d, %d) failed: %v", ti, zi, err)
			}
		}
	}
	return a
}

func planeFill(t *testing.T, d *DataArray, want byte, coords ...int) {
	t.Helper()
	data, err := d.Plane(coords...)
	if err != nil {
		t.Fatalf("Plane(%v) failed: %v", coords, err)
	}
	for _, b := range data {
		if b != want {
			t.Fatalf("Plane(%v) = %v, want fill %d", coords, data, want)
		}
	}
}

func TestNewValidation(t *testing.T) {
	base := testBase(t)
	if _, err := New("a", base, "T", "Z", "Y"); err == nil {
		t.Error("wrong dimension count should fail")
	}
	if _, err := New("a", base, "T", "T", "Y", "X"); err == nil {
		t.Error("duplicate dimension name should fail")
	}
	if _, err := New("a", base, "T", "", "Y", "X"); err == nil {
		t.Error("empty dimension name should fail")
	}
	if _, err := New("a", nil, "T", "Z"); err == nil {
		t.Error("nil backing array should fail")
	}
}

func TestAccessors(t *testing.T) {
	d, err := New("img", testBase(t), "T", "Z", "Y", "X")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if d.Name() != "img" {
		t.Errorf("Name = %q, want img", d.Name())
	}
	if got := d.Dims(); len(got) != 4 || got[0] != "T" || got[3] != "X" {
		t.Errorf("Dims = %v", got)
	}
	if n, err := d.Size("Z"); err != nil || n != 2 {
		t.Errorf("Size(Z) = %d, %v", n, err)
	}
	if _, err := d.Size("Q"); err == nil {
		t.Error("Size of unknown dimension should fail")
	}
	if d.DType() != zarr.Uint8 {
		t.Errorf("DType = %v", d.DType())
	}
}

func TestSel(t *testing.T) {
	d, err := New("img", testBase(t), "T", "Z", "Y", "X")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	s, err := d.Sel("T", 2)
	if err != nil {
		t.Fatalf("Sel failed: %v", err)
	}
	if got := s.Dims(); len(got) != 3 || got[0] != "Z" {
		t.Errorf("Dims after Sel = %v", got)
	}
	planeFill(t, s, 21, 1) // t=2, z=1

	if _, err := d.Sel("Y", 0); err == nil {
		t.Error("Sel on a plane dimension should fail")
	}
	if _, err := d.Sel("T", 3); err == nil {
		t.Error("Sel out of range should fail")
	}
	if _, err := d.Sel("Q", 0); err == nil {
		t.Error("Sel on unknown dimension should fail")
	}

	// The source view is unchanged.
	if got := d.Dims(); len(got) != 4 {
		t.Errorf("source Dims mutated: %v", got)
	}
}

func TestExpandDims(t *testing.T) {
	d, err := New("img", testBase(t), "T", "Z", "Y", "X")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	e, err := d.ExpandDims("R", "C")
	if err != nil {
		t.Fatalf("ExpandDims failed: %v", err)
	}
	if got := e.Dims(); got[0] != "R" || got[1] != "C" || got[2] != "T" {
		t.Errorf("Dims after ExpandDims = %v", got)
	}
	if got := e.Shape(); got[0] != 1 || got[1] != 1 {
		t.Errorf("Shape after ExpandDims = %v", got)
	}
	planeFill(t, e, 11, 0, 0, 1, 1) // r=0, c=0, t=1, z=1

	if _, err := e.Plane(0, 0, 1, 2); err == nil {
		t.Error("out-of-range slice coordinate should fail")
	}
	if _, err := e.Plane(1, 0, 1, 1); err == nil {
		t.Error("nonzero coordinate on an expanded dimension should fail")
	}
	if _, err := d.ExpandDims("T"); err == nil {
		t.Error("expanding an existing dimension should fail")
	}
}

func TestTranspose(t *testing.T) {
	d, err := New("img", testBase(t), "T", "Z", "Y", "X")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	e, err := d.ExpandDims("R", "C")
	if err != nil {
		t.Fatalf("ExpandDims failed: %v", err)
	}
	c, err := e.Transpose("R", "T", "C", "Z", "Y", "X")
	if err != nil {
		t.Fatalf("Transpose failed: %v", err)
	}
	if got := c.Shape(); got[0] != 1 || got[1] != 3 || got[2] != 1 || got[3] != 2 {
		t.Errorf("Shape after Transpose = %v", got)
	}
	planeFill(t, c, 20, 0, 2, 0, 0) // r=0, t=2, c=0, z=0

	if _, err := d.Transpose("Z", "T", "Y", "X"); err != nil {
		t.Errorf("leading-dimension transpose failed: %v", err)
	}
	if _, err := d.Transpose("T", "Y", "Z", "X"); err == nil {
		t.Error("moving a plane dimension forward should fail")
	}
	if _, err := d.Transpose("T", "Z", "X", "Y"); err == nil {
		t.Error("swapping plane dimensions should fail")
	}
	if _, err := d.Transpose("T", "Z", "Y"); err == nil {
		t.Error("short transpose order should fail")
	}
	if _, err := d.Transpose("T", "T", "Y", "X"); err == nil {
		t.Error("repeated name in transpose order should fail")
	}
}

func TestAsZarr(t *testing.T) {
	d, err := New("img", testBase(t), "T", "Z", "Y", "X")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	v, err := d.Sel("T", 1)
	if err != nil {
		t.Fatalf("Sel failed: %v", err)
	}
	arr, err := v.AsZarr()
	if err != nil {
		t.Fatalf("AsZarr failed: %v", err)
	}
	if got := arr.Shape(); len(got) != 3 || got[0] != 2 || got[1] != 2 || got[2] != 2 {
		t.Errorf("AsZarr shape = %v", got)
	}
	data, err := arr.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := append(bytes.Repeat([]byte{10}, 4), bytes.Repeat([]byte{11}, 4)...)
	if !bytes.Equal(data, want) {
		t.Errorf("Read = %v, want %v", data, want)
	}
}

func TestReadMatchesBacking(t *testing.T) {
	base := testBase(t)
	d, err := New("img", base, "T", "Z", "Y", "X")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got, err := d.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want, err := base.Read()
	if err != nil {
		t.Fatalf("backing Read failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("identity view read differs from backing array")
	}
}
