package soil

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fullObservations returns complete observations for src with raw value fn(property, depth index).
func fullObservations(src Source, fn func(id string, d int) float64) *Observations {
	obs := NewObservations(src)
	for _, p := range PropertiesFrom(src) {
		for i, d := range Depths {
			obs.Set(p.ID, d.Label, fn(p.ID, i))
		}
	}
	return obs
}

func constant(v float64) func(string, int) float64 {
	return func(string, int) float64 { return v }
}

func TestMapToLayers(t *testing.T) {
	layers := MapToLayers([NumDepths]float64{1, 2, 3, 4, 5, 6})

	want := [NumLayers]float64{1.5, 2.5, 3, 4, 4, 4, 5, 5, 5, 5, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6}
	for i := range want {
		assert.InDelta(t, want[i], layers[i], 1e-12, "layer %d", i)
	}
	assert.InDelta(t, 4.95, Mean(layers[:]), 1e-12)
}

func TestConvert(t *testing.T) {
	// SoilGrids clay 213 g/kg -> 21.3 % -> 0.213 fraction.
	assert.InDelta(t, 0.213, Convert(213, SpecByID("clay")), 1e-12)
	// HiHydroSoil WCpF2 3512 -> 0.3512 m3/m3 -> 35.12 V%.
	assert.InDelta(t, 35.12, Convert(3512, SpecByID("FC")), 1e-9)
	// Ksat 1250 -> 0.125 cm/d -> 1.25 mm/d.
	assert.InDelta(t, 1.25, Convert(1250, SpecByID("KS")), 1e-12)
}

func TestSpecByID_UnknownPanics(t *testing.T) {
	assert.Panics(t, func() { SpecByID("nitrogen") })
}

func TestPropertySpec_Header(t *testing.T) {
	assert.Equal(t, "FC[V%]", SpecByID("FC").Header())
	assert.Equal(t, "KS[mm/d]", SpecByID("KS").Header())
	assert.Equal(t, "silt", SpecByID("silt").Header())
}

func TestMerge_Complete(t *testing.T) {
	api := fullObservations(SourceSoilGrids, constant(200))
	raster := fullObservations(SourceHiHydroSoil, constant(3000))

	rec, err := Merge(api, raster)
	require.NoError(t, err)

	// Exactly the declared properties, in declared order.
	var want []string
	for _, p := range Properties() {
		want = append(want, p.ID)
	}
	assert.Equal(t, want, rec.IDs())

	clay, ok := rec.Get("clay")
	require.True(t, ok)
	require.Len(t, clay.Values, 1)
	assert.InDelta(t, 0.2, clay.Values[0], 1e-12)

	fc, ok := rec.Get("FC")
	require.True(t, ok)
	require.Len(t, fc.Values, NumLayers)
	for _, v := range fc.Values {
		assert.InDelta(t, 30.0, v, 1e-9)
	}

	assert.Len(t, rec.EntriesOfShape(DepthMean), 3)
	assert.Len(t, rec.EntriesOfShape(Layered), 4)
}

func TestMerge_MissingAPIProperty(t *testing.T) {
	api := NewObservations(SourceSoilGrids)
	for _, p := range PropertiesFrom(SourceSoilGrids) {
		if p.ID == "sand" {
			continue
		}
		for _, d := range Depths {
			api.Set(p.ID, d.Label, 100)
		}
	}
	cause := eris.Wrap(ErrRemoteDataMissing, "soilgrids: layer sand absent")
	api.Fail("sand", "0-5cm", cause)
	raster := fullObservations(SourceHiHydroSoil, constant(3000))

	rec, err := Merge(api, raster)
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.True(t, errors.Is(err, ErrIncompleteRecord))

	var ire *IncompleteRecordError
	require.True(t, errors.As(err, &ire))
	assert.Equal(t, []string{"sand"}, ire.Properties())
	assert.Len(t, ire.Missing, NumDepths)
	assert.Equal(t, SourceSoilGrids, ire.Missing[0].Source)
	assert.True(t, errors.Is(ire.Missing[0].Err, ErrRemoteDataMissing))
	assert.Nil(t, ire.Missing[1].Err)
	assert.Contains(t, err.Error(), "sand 0-5cm (soilgrids)")
}

func TestMerge_SingleRasterDepthMissing(t *testing.T) {
	api := fullObservations(SourceSoilGrids, constant(100))
	raster := fullObservations(SourceHiHydroSoil, constant(3000))

	// Replace one value with a failure.
	raster2 := NewObservations(SourceHiHydroSoil)
	for _, p := range PropertiesFrom(SourceHiHydroSoil) {
		for _, d := range Depths {
			if p.ID == "KS" && d.Label == "100-200cm" {
				raster2.Fail(p.ID, d.Label, ErrNoDataValue)
				continue
			}
			v, _ := raster.Get(p.ID, d.Label)
			raster2.Set(p.ID, d.Label, v)
		}
	}

	_, err := Merge(api, raster2)
	var ire *IncompleteRecordError
	require.True(t, errors.As(err, &ire))
	require.Len(t, ire.Missing, 1)
	assert.Equal(t, "KS", ire.Missing[0].Property)
	assert.Equal(t, "100-200cm", ire.Missing[0].Depth)
	assert.True(t, errors.Is(ire.Missing[0].Err, ErrNoDataValue))
}

func TestMerge_NilObservations(t *testing.T) {
	_, err := Merge(nil, nil)
	var ire *IncompleteRecordError
	require.True(t, errors.As(err, &ire))
	assert.Len(t, ire.Missing, len(Properties())*NumDepths)
}

func TestObservations_SetClearsFailure(t *testing.T) {
	obs := NewObservations(SourceHiHydroSoil)
	obs.Fail("FC", "0-5cm", ErrRemoteUnavailable)
	assert.Equal(t, 1, obs.FailureCount())

	obs.Set("FC", "0-5cm", 1)
	assert.NoError(t, obs.Failure("FC", "0-5cm"))
	assert.Equal(t, 0, obs.FailureCount())
	assert.Equal(t, 1, obs.Len())
	assert.Equal(t, SourceHiHydroSoil, obs.Source())
}

func TestNewRecord_RejectsWrongOrder(t *testing.T) {
	rec, err := Merge(fullObservations(SourceSoilGrids, constant(1)), fullObservations(SourceHiHydroSoil, constant(1)))
	require.NoError(t, err)

	entries := rec.Entries()
	entries[0], entries[1] = entries[1], entries[0]
	_, err = NewRecord(entries)
	assert.Error(t, err)

	_, err = NewRecord(entries[:3])
	assert.Error(t, err)
}

func TestObservations_FailuresInTableOrder(t *testing.T) {
	obs := NewObservations(SourceHiHydroSoil)
	obs.Fail("KS", "5-15cm", ErrNoDataValue)
	obs.Fail("FC", "100-200cm", ErrOutOfRasterBounds)
	obs.Fail("FC", "0-5cm", ErrRemoteUnavailable)

	got := obs.Failures()
	require.Len(t, got, 3)
	assert.Equal(t, "FC", got[0].Property)
	assert.Equal(t, "0-5cm", got[0].Depth)
	assert.Equal(t, "100-200cm", got[1].Depth)
	assert.Equal(t, "KS", got[2].Property)
	assert.Equal(t, SourceHiHydroSoil, got[2].Source)
	assert.True(t, errors.Is(got[2].Err, ErrNoDataValue))
}
