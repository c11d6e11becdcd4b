package db

import "testing"

func TestConnect_SQLite(t *testing.T) {
	gdb, err := Connect("sqlite", "file::memory:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var one int
	if err := gdb.Raw("SELECT 1").Scan(&one).Error; err != nil || one != 1 {
		t.Fatalf("select 1: %v (%d)", err, one)
	}
}

func TestConnect_UnknownDriver(t *testing.T) {
	if _, err := Connect("oracle", "x"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
