package main

import (
	"testing"

	_ "github.com/odyssey-erp/customer-portal/internal/testing/guard"
)

func TestMainReturnsInTestMode(t *testing.T) {
	main()
}
