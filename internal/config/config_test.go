package config

import "testing"

func validConfig() AppConfig {
	cfg := AppConfig{
		Parser:   ParserItch50,
		Sequence: SequenceConfig{Offset: 0, Length: 8, Endian: EndianBig},
		Channels: []ChannelConfig{
			{Name: "a", Group: "239.1.1.1", Port: 15000},
			{Name: "b", Group: "239.1.1.2", Port: 15001},
		},
	}
	applyDefaults(&cfg)
	return cfg
}

func TestValidConfigPasses(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestRejectsNonMulticastGroup(t *testing.T) {
	cfg := validConfig()
	cfg.Channels[0].Group = "10.0.0.1"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-multicast group")
	}
}

func TestRejectsBadSequenceLength(t *testing.T) {
	cfg := validConfig()
	cfg.Sequence.Length = 6
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for bad sequence length")
	}
}

func TestRejectsMultiWorkerWithoutReusePort(t *testing.T) {
	cfg := validConfig()
	cfg.Channels[0].Workers = 4
	cfg.Channels[0].ReusePort = false
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for workers>1 without reuse_port")
	}
}

func TestRejectsOutOfRangeMaxPacketSize(t *testing.T) {
	cfg := validConfig()
	cfg.General.MaxPacketSize = 100
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for tiny max_packet_size")
	}
}
