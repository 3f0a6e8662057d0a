package broute

func CreateTestEnergyMeterReader() (EnergyMeterReader, error) {
	return &TestEnergyMeterReader{InstantaneousPower: 1250}, nil
}

// TestEnergyMeterReader is an in memory meter.
type TestEnergyMeterReader struct {
	InstantaneousPower uint32
	CumulativeEnergy   float64
	Current            *InstantaneousCurrent
	ReadError          error
	opened             bool
}

func (reader *TestEnergyMeterReader) Open() error {
	reader.opened = true
	return nil
}

func (reader *TestEnergyMeterReader) Close() error {
	reader.opened = false
	return nil
}

func (reader *TestEnergyMeterReader) GetInfo() (*MeterInfo, error) {
	if !reader.opened {
		return nil, ErrNotConnected
	}
	return &MeterInfo{
		Channel:      "21",
		PanID:        "8888",
		Addr:         "001C6400030C12A4",
		IPv6:         "FE80:0000:0000:0000:021C:6400:030C:12A4",
		ModemVersion: "1.2.10",
	}, nil
}

func (reader *TestEnergyMeterReader) GetInstantaneousPower() (uint32, error) {
	if !reader.opened {
		return 0, ErrNotConnected
	}
	if reader.ReadError != nil {
		return 0, reader.ReadError
	}
	return reader.InstantaneousPower, nil
}

func (reader *TestEnergyMeterReader) GetCumulativeEnergy() (float64, error) {
	if !reader.opened {
		return 0, ErrNotConnected
	}
	if reader.ReadError != nil {
		return 0, reader.ReadError
	}
	if reader.CumulativeEnergy == 0 {
		return 4521.7, nil
	}
	return reader.CumulativeEnergy, nil
}

func (reader *TestEnergyMeterReader) GetInstantaneousCurrent() (*InstantaneousCurrent, error) {
	if !reader.opened {
		return nil, ErrNotConnected
	}
	if reader.ReadError != nil {
		return nil, reader.ReadError
	}
	if reader.Current == nil {
		return &InstantaneousCurrent{R: 12.5, T: 3.1}, nil
	}
	return reader.Current, nil
}
