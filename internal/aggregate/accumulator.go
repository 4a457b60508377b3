package aggregate

import (
	"math/big"

	"poolEngine/internal/model"
)

// Accumulator holds aggregate values for a pool window.
type Accumulator struct {
	PoolID       string
	AssetA       string
	AssetB       string
	WindowStart  uint64
	WindowEnd    uint64
	PutCount     uint64
	GetCount     uint64
	VolumeAIn    *big.Int
	VolumeAOut   *big.Int
	VolumeBIn    *big.Int
	VolumeBOut   *big.Int
	FeeA         *big.Int
	FeeB         *big.Int
	SharesMinted *big.Int
	SharesBurned *big.Int
	LastPrice    int64
	ReserveA     int64
	ReserveB     int64
	LastHeight   uint64
	LastTS       uint64
	FirstHeight  uint64
}

func NewAccumulator(record model.OperationRecord, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		PoolID:       record.PoolID,
		AssetA:       record.AssetA,
		AssetB:       record.AssetB,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		VolumeAIn:    big.NewInt(0),
		VolumeAOut:   big.NewInt(0),
		VolumeBIn:    big.NewInt(0),
		VolumeBOut:   big.NewInt(0),
		FeeA:         big.NewInt(0),
		FeeB:         big.NewInt(0),
		SharesMinted: big.NewInt(0),
		SharesBurned: big.NewInt(0),
		LastHeight:   record.Height,
		LastTS:       record.Timestamp,
		FirstHeight:  record.Height,
	}
}

// AddRecord folds one completed operation into the window.
func (a *Accumulator) AddRecord(record model.OperationRecord) {
	if record.Timestamp >= a.LastTS {
		a.LastTS = record.Timestamp
		a.LastHeight = record.Height
		a.LastPrice = record.Price
		a.ReserveA = record.ReserveA
		a.ReserveB = record.ReserveB
	}
	if a.FirstHeight == 0 || record.Height < a.FirstHeight {
		a.FirstHeight = record.Height
	}

	amountA := big.NewInt(record.AmountA)
	amountB := big.NewInt(record.AmountB)
	shares := big.NewInt(record.Shares)
	switch record.Tag {
	case model.TagPut:
		a.PutCount++
		a.VolumeAIn.Add(a.VolumeAIn, amountA)
		a.VolumeBIn.Add(a.VolumeBIn, amountB)
		a.SharesMinted.Add(a.SharesMinted, shares)
	case model.TagGet:
		a.GetCount++
		a.VolumeAOut.Add(a.VolumeAOut, amountA)
		a.VolumeBOut.Add(a.VolumeBOut, amountB)
		a.SharesBurned.Add(a.SharesBurned, shares)
	default:
		return
	}
	a.addFee(record)
}

// addFee credits the fee to the side the single-asset operation touched.
func (a *Accumulator) addFee(record model.OperationRecord) {
	if record.Fee == 0 {
		return
	}
	fee := big.NewInt(record.Fee)
	if record.AmountA != 0 && record.AmountB == 0 {
		a.FeeA.Add(a.FeeA, fee)
		return
	}
	if record.AmountB != 0 && record.AmountA == 0 {
		a.FeeB.Add(a.FeeB, fee)
	}
}
