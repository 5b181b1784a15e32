package platform

import (
	"time"

	"echonode-go/x/timex"
)

// ADC calibration for a 12-bit converter against a 3.3 V reference.
const (
	ADCFullScale = 4096
	ADCRefMicro  = 3_300_000
)

// DefaultSampleHz is the capture rate detector bins are tuned for: 500
// samples fill one buffer in 2.5 ms.
const DefaultSampleHz = 200_000

// RawToMicroVolts converts one adjusted 12-bit reading. The product is
// formed in 64 bits; 4095 LSB times the reference does not fit in 32.
func RawToMicroVolts(raw uint16) uint32 {
	return uint32(uint64(raw) * ADCRefMicro / ADCFullScale)
}

// BlockPeriod is the time to capture samples readings at rateHz.
func BlockPeriod(samples int, rateHz uint32) time.Duration {
	if samples <= 0 {
		return 0
	}
	return time.Duration(timex.PeriodFromHz(rateHz)) * time.Duration(samples)
}
