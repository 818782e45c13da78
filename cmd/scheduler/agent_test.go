package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDays(t *testing.T) {
	days, err := parseDays(" 0, 3,6 ,")
	require.NoError(t, err)
	require.Equal(t, []int{0, 3, 6}, days)

	_, err = parseDays("1,7")
	require.Error(t, err)

	_, err = parseDays("mon")
	require.Error(t, err)
}
