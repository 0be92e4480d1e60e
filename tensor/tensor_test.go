package tensor

import "testing"

func TestNewShape(t *testing.T) {
	t1 := New(2, 3)
	if len(t1.Data) != 6 {
		t.Fatalf("expected 6 elements, got %d", len(t1.Data))
	}
	if len(t1.Shape) != 2 || t1.Shape[0] != 2 || t1.Shape[1] != 3 {
		t.Fatalf("unexpected shape: %v", t1.Shape)
	}
}

func TestFromData(t *testing.T) {
	if _, err := FromData([]float64{1, 2, 3}, 2, 2); err == nil {
		t.Fatal("expected size mismatch error")
	}
	src := []float64{1, 2, 3, 4}
	x, err := FromData(src, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	src[0] = 100
	if x.At(0, 0) != 1 {
		t.Errorf("FromData must copy its input, got %f", x.At(0, 0))
	}
}

func TestAdd(t *testing.T) {
	a := &Tensor{Data: []float64{1, 2, 3}, Shape: []int{3}}
	b := &Tensor{Data: []float64{4, 5, 6}, Shape: []int{3}}
	c, err := Add(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{5, 7, 9}
	for i := range want {
		if c.Data[i] != want[i] {
			t.Errorf("at %d, got %f, want %f", i, c.Data[i], want[i])
		}
	}
	if _, err := Add(a, New(2)); err == nil {
		t.Error("expected shape mismatch error")
	}
}

func TestMatMulT(t *testing.T) {
	a := &Tensor{Data: []float64{1, 2, 3, 4}, Shape: []int{2, 2}}
	// rows of b are the columns of [[5 6] [7 8]]
	b := &Tensor{Data: []float64{5, 7, 6, 8}, Shape: []int{2, 2}}
	c, err := MatMulT(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{19, 22, 43, 50}
	for i := range want {
		if c.Data[i] != want[i] {
			t.Errorf("at %d, got %f, want %f", i, c.Data[i], want[i])
		}
	}

	if _, err := MatMulT(a, New(2, 3)); err == nil {
		t.Error("expected inner dimension error")
	}
	if _, err := MatMulT(New(4), b); err == nil {
		t.Error("expected rank error")
	}
}

func TestReshapeSharesData(t *testing.T) {
	x := New(2, 3)
	y, err := x.Reshape(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	y.Set(7, 2, 1)
	if x.Data[5] != 7 {
		t.Errorf("reshape should be a view, got %v", x.Data)
	}
	if _, err := x.Reshape(4, 2); err == nil {
		t.Error("expected reshape error")
	}
}

func TestAtSet(t *testing.T) {
	x := New(2, 3, 4)
	x.Set(1.5, 1, 2, 3)
	if got := x.At(1, 2, 3); got != 1.5 {
		t.Errorf("At = %f, want 1.5", got)
	}
	if x.Data[len(x.Data)-1] != 1.5 {
		t.Errorf("row-major layout broken: %v", x.Data)
	}
}
