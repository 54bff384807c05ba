package monitor

// NewAveragingConverter averages each reading with the previous windowSize-1
// ones. Result readings pass through unchanged and restart the window,
// because the relays may have switched.
func NewAveragingConverter(windowSize int, bufSize int) func(in <-chan Reading) <-chan Reading {
	if windowSize <= 0 {
		windowSize = 1
	}
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan Reading) <-chan Reading {
		out := make(chan Reading, bufSize)

		go func() {
			defer close(out)

			buffer := make([]Reading, 0, windowSize)
			for r := range in {
				if r.Result {
					buffer = buffer[:0]
					out <- r
					continue
				}
				if len(buffer) > 0 && buffer[len(buffer)-1].Relays != r.Relays {
					buffer = buffer[:0]
				}

				buffer = append(buffer, r)
				if len(buffer) > windowSize {
					buffer = buffer[1:]
				}
				out <- average(buffer)
			}
		}()

		return out
	}
}

// average averages the power and SWR of readings. Everything else comes
// from the most recent one.
func average(readings []Reading) Reading {
	if len(readings) == 0 {
		return Reading{}
	}

	var fwd, ref, swr float64
	for _, r := range readings {
		fwd += r.ForwardWatts
		ref += r.ReflectedWatts
		swr += r.SWR
	}

	n := float64(len(readings))
	avg := readings[len(readings)-1]
	avg.ForwardWatts = fwd / n
	avg.ReflectedWatts = ref / n
	avg.SWR = swr / n
	return avg
}
