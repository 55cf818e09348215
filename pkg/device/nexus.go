package device

// ScanInfo describes a configured scan to the devices taking part.
type ScanInfo struct {
	Name       string
	Shape      []int
	Rank       int
	Size       int
	Scannables []string
	Detectors  []string
}

// NexusProvider is implemented by devices that contribute to the scan data
// file. Devices without it are skipped.
type NexusProvider interface {
	PrepareNexus(info ScanInfo) error
}

// prepareNexus calls PrepareNexus on each of targets that provides it.
func prepareNexus(info ScanInfo, targets ...any) error {
	for _, t := range targets {
		np, ok := t.(NexusProvider)
		if !ok {
			continue
		}
		if err := np.PrepareNexus(info); err != nil {
			return err
		}
	}
	return nil
}
