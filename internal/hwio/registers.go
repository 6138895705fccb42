package hwio

// RegisterMap names every embedded-controller cell the controller touches.
// It is loaded once at startup and treated as read-only afterwards; per-SKU
// overrides replace the whole map, never patch it in place.
type RegisterMap struct {
	PerformanceMode Register
	AIEngine        Register
	ThermalMode     Register

	Fan1Speed  Register
	Fan2Speed  Register
	Fan1Target Register
	Fan2Target Register

	CPUPL1 Register
	CPUPL2 Register
	GPUTGP Register

	CPUTemp    Register
	GPUTemp    Register
	GPUHotspot Register
	VRMTemp    Register
	SSDTemp    Register
}

// DefaultRegisterMap is the Legion Gen 9 (16IRX9) layout.
func DefaultRegisterMap() RegisterMap {
	return RegisterMap{
		PerformanceMode: 0xA0,
		AIEngine:        0xA1,
		ThermalMode:     0xA2,

		Fan1Speed:  0xB0,
		Fan2Speed:  0xB1,
		Fan1Target: 0xB2,
		Fan2Target: 0xB3,

		CPUPL1: 0xC0,
		CPUPL2: 0xC1,
		GPUTGP: 0xC4,

		CPUTemp:    0xE0,
		GPUTemp:    0xE2,
		GPUHotspot: 0xE3,
		VRMTemp:    0xE5,
		SSDTemp:    0xE6,
	}
}
