package platform

// Board maps logical functions to GPIO numbers (Pico GP numbering).
type Board struct {
	LED1  int
	LED2  int
	Alarm int

	PWM   int
	PWMHz uint32 // carrier frequency

	ADC        int // GPIO of the sampled channel
	ADCChannel int
	SampleHz   uint32

	SPISCK    int
	SPISDO    int
	SPISDI    int
	RadioNSS  int
	RadioRST  int
	RadioDIO0 int
	RadioDIO1 int

	UARTTX int
	UARTRX int
	Baud   uint32
}

// DefaultBoard is the wiring used by the prototype nodes.
func DefaultBoard() Board {
	return Board{
		LED1:       25,
		LED2:       15,
		Alarm:      14,
		PWM:        20,
		PWMHz:      40_000,
		ADC:        26,
		ADCChannel: 0,
		SampleHz:   DefaultSampleHz,
		SPISCK:     18,
		SPISDO:     19,
		SPISDI:     16,
		RadioNSS:   17,
		RadioRST:   21,
		RadioDIO0:  22,
		RadioDIO1:  13,
		UARTTX:     0,
		UARTRX:     1,
		Baud:       115200,
	}
}
