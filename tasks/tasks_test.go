package tasks

import (
	"reflect"
	"testing"
)

func TestEnumerate_CrossProduct(t *testing.T) {
	d := Dimensions{
		Pairs: []Pair{
			{Region: "Thailand", Query: "properties"},
			{Region: "Vietnam", Query: "loans"},
		},
		Owners: []string{"Acme", "Globex"},
	}
	got := Enumerate(d)
	want := []Key{
		{Region: "Thailand", Query: "properties", Owner: "Acme"},
		{Region: "Thailand", Query: "properties", Owner: "Globex"},
		{Region: "Vietnam", Query: "loans", Owner: "Acme"},
		{Region: "Vietnam", Query: "loans", Owner: "Globex"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Enumerate = %v, want %v", got, want)
	}
}

func TestEnumerate_EmptyOwnersSentinel(t *testing.T) {
	d := Dimensions{Pairs: []Pair{{Region: "Thailand", Query: "properties"}}}
	got := Enumerate(d)
	want := []Key{{Region: "Thailand", Query: "properties"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Enumerate = %v, want %v", got, want)
	}
}

func TestEnumerate_NoPairs(t *testing.T) {
	if got := Enumerate(Dimensions{Owners: []string{"Acme"}}); len(got) != 0 {
		t.Fatalf("Enumerate with no pairs = %v, want empty", got)
	}
}

func TestPending_PreservesOrder(t *testing.T) {
	keys := []Key{
		{Region: "A", Query: "x"},
		{Region: "B", Query: "y"},
		{Region: "C", Query: "z"},
	}
	done := map[Key]struct{}{
		{Region: "B", Query: "y"}: {},
	}
	got := Pending(keys, done)
	want := []Key{
		{Region: "A", Query: "x"},
		{Region: "C", Query: "z"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Pending = %v, want %v", got, want)
	}
}

func TestPending_NothingDone(t *testing.T) {
	keys := []Key{{Region: "A", Query: "x"}}
	got := Pending(keys, nil)
	if !reflect.DeepEqual(got, keys) {
		t.Fatalf("Pending = %v, want %v", got, keys)
	}
}

func TestPending_AllDone(t *testing.T) {
	keys := []Key{
		{Region: "A", Query: "x", Owner: "Acme"},
		{Region: "A", Query: "x", Owner: "Globex"},
	}
	done := map[Key]struct{}{keys[0]: {}, keys[1]: {}}
	if got := Pending(keys, done); len(got) != 0 {
		t.Fatalf("Pending = %v, want empty", got)
	}
}
