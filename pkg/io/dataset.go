package io

import (
	"math/rand"

	"github.com/ABusyProgrammer/CS598-DLH/pkg/model"
)

type DataSet struct {
	Data         []*model.Instance
	BatchSize    int
	Rand         *rand.Rand
	dataIndices  []int
	currentOrder []int
	currentIndex int
}

type DatasetOrder int

const (
	OriginalOrder DatasetOrder = iota
	RandomOrder
)

func (d *DataSet) ResetOrder(order DatasetOrder) {
	if d.currentOrder == nil {
		d.currentOrder = make([]int, len(d.dataIndices))
	}
	switch order {
	case OriginalOrder:
		copy(d.currentOrder, d.dataIndices)
	case RandomOrder:
		ind := d.Rand.Perm(len(d.currentOrder))
		for i := range ind {
			d.currentOrder[i] = d.dataIndices[ind[i]]
		}
	}

	d.currentIndex = 0
}

func (d *DataSet) Next() DataBatch {
	batch := make(DataBatch, 0, d.BatchSize)
	for ; d.currentIndex < len(d.currentOrder) && len(batch) < d.BatchSize; d.currentIndex++ {
		batch = append(batch, d.Data[d.currentOrder[d.currentIndex]])
	}
	return batch
}

func (d *DataSet) Size() int {
	return len(d.dataIndices)
}

// PositiveFraction is the share of positive targets among the records this
// data set can see, which differs from the whole collection after a split.
func (d *DataSet) PositiveFraction() float64 {
	if len(d.dataIndices) == 0 {
		return 0
	}
	positives := 0
	for _, i := range d.dataIndices {
		if d.Data[i].Target == 1 {
			positives++
		}
	}
	return float64(positives) / float64(len(d.dataIndices))
}

func NewDataSet(data []*model.Instance, batchSize int) *DataSet {
	dataIndices := make([]int, len(data))
	for i := range dataIndices {
		dataIndices[i] = i
	}
	ds := &DataSet{Data: data, BatchSize: batchSize, dataIndices: dataIndices}
	ds.ResetOrder(OriginalOrder)
	return ds
}

func NewDataSetSplit(data []*model.Instance, batchSize int, indices []int) *DataSet {
	ds := &DataSet{Data: data, BatchSize: batchSize, dataIndices: indices}
	ds.ResetOrder(OriginalOrder)
	return ds
}

func (d *DataSet) RandomSplit(sizes ...int) []*DataSet {
	indices := make([]int, len(d.dataIndices))
	copy(indices, d.dataIndices)
	d.Rand.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
	splits := make([]*DataSet, len(sizes))
	idx := 0
	for i := range sizes {
		splitIndices := make([]int, sizes[i])
		for j := range splitIndices {
			splitIndices[j] = indices[idx]
			idx++
		}
		splits[i] = &DataSet{Data: d.Data, BatchSize: d.BatchSize, Rand: d.Rand, dataIndices: splitIndices}
		splits[i].ResetOrder(OriginalOrder)
	}
	return splits
}
