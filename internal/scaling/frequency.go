package scaling

func GetFrequencyFromPercent(minFreq, maxFreq int, percent int) int {
	return minFreq + (maxFreq-minFreq)*percent/100
}

// scaleFrequency projects the frequency that would bring busyness to the target, bounded by the hardware range.
func scaleFrequency(currentFreq, busyness, targetBusyness, minFreq, maxFreq int) int {
	if targetBusyness <= 0 {
		return maxFreq
	}
	next := currentFreq * busyness / targetBusyness
	return min(max(next, minFreq), maxFreq)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
