package model

import "time"

// PoolWindowStats stores aggregated activity for a pool window.
type PoolWindowStats struct {
	PoolID         string
	WindowSizeSecs int64
	WindowStart    time.Time
	WindowEnd      time.Time
	PutCount       uint64
	GetCount       uint64
	VolumeAIn      string
	VolumeAOut     string
	VolumeBIn      string
	VolumeBOut     string
	FeeA           string
	FeeB           string
	SharesMinted   string
	SharesBurned   string
	LastPrice      int64
	ReserveA       *string
	ReserveB       *string
	FeeRateA       *string
	FeeRateB       *string
	APR            *string
	TVLMethod      string
}
