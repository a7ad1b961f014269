package audio

// PCM helpers for the transcode path. The pipeline currency is interleaved
// stereo int16 at 48 kHz; decoders that produce anything else are converted
// with these functions before Opus encoding.

// monoToStereo duplicates each mono sample into an L+R pair.
func monoToStereo(pcm []int16) []int16 {
	out := make([]int16, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// resampleStereo resamples interleaved stereo int16 PCM from srcRate to
// dstRate using linear interpolation. When the rates already match, the
// input is returned unchanged.
func resampleStereo(pcm []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcFrames := len(pcm) / 2
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]int16, dstFrames*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		l0 := pcm[srcIdx*2]
		r0 := pcm[srcIdx*2+1]
		l1, r1 := l0, r0
		if srcIdx+1 < srcFrames {
			l1 = pcm[(srcIdx+1)*2]
			r1 = pcm[(srcIdx+1)*2+1]
		}

		out[i*2] = int16(float64(l0)*(1-frac) + float64(l1)*frac)
		out[i*2+1] = int16(float64(r0)*(1-frac) + float64(r1)*frac)
	}
	return out
}

// clampToInt16 converts a float sample in [-1, 1] to int16, clamping
// out-of-range values instead of wrapping.
func clampToInt16(s float64) int16 {
	v := s * 32768.0
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
