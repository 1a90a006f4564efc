package soil

// Convert turns a raw source value into the Grassmind unit of spec.
func Convert(raw float64, spec PropertySpec) float64 {
	return raw * spec.RawScale * spec.ToModel
}

// MapToLayers maps values on the six source depths to the 10 cm Grassmind
// layers. Each layer is the unweighted mean of the source depths overlapping it.
func MapToLayers(profile [NumDepths]float64) [NumLayers]float64 {
	var layers [NumLayers]float64
	for i := range NumLayers {
		top := i * LayerThickness
		bottom := top + LayerThickness

		sum, n := 0.0, 0
		for d, depth := range Depths {
			if top < depth.Bottom && depth.Top < bottom {
				sum += profile[d]
				n++
			}
		}
		layers[i] = sum / float64(n)
	}
	return layers
}

// Mean is the unweighted mean of values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
