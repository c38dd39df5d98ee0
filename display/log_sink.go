package display

import "option-monitor-go/infrastructure/logger"

// LogSink 每个 tick 写一条结构化日志，适合无终端运行。
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Render(f Frame) error {
	fields := map[string]interface{}{}
	if m := f.Market; m != nil {
		fields["option_value"] = m.OptionValue
		fields["spot"] = m.Spot
		fields["domestic_rate"] = m.DomesticRate
		fields["foreign_rate"] = m.ForeignRate
		fields["strike"] = m.Strike
		fields["tau"] = m.Tau
	}
	if a := f.Analytics; a != nil {
		fields["implied_vol"] = a.ImpliedVol
		fields["iterations"] = a.Iterations
		fields["delta"] = a.Delta
		fields["vega"] = a.Vega
		fields["theta"] = a.Theta
		fields["rho"] = a.Rho
	}
	if f.Error != "" {
		s.log.LogTickFailure(f.Tick, f.Latency, f.Error, fields)
		return nil
	}
	s.log.LogTick(f.Tick, f.Latency, fields)
	return nil
}
