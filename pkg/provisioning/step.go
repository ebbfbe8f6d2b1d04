package provisioning

// Step identifies one stage of the provisioning flow.
type Step uint8

const (
	// StepSelectDevice is the idle stage; no device is being provisioned.
	StepSelectDevice Step = iota

	// StepConnectBLE waits for the BLE handshake to finish.
	StepConnectBLE

	// StepConfigureWiFi pushes credentials and waits for the device to
	// reach the network.
	StepConfigureWiFi

	// StepConfigureName sets the display name.
	StepConfigureName

	// StepConfigureOrientation sets the mounting orientation.
	StepConfigureOrientation

	// StepConfigurePassword optionally sets a device password.
	StepConfigurePassword

	// StepComplete is the terminal stage; Done finalizes the flow.
	StepComplete
)

// String returns the step name.
func (s Step) String() string {
	switch s {
	case StepSelectDevice:
		return "SELECT_DEVICE"
	case StepConnectBLE:
		return "CONNECT_BLE"
	case StepConfigureWiFi:
		return "CONFIGURE_WIFI"
	case StepConfigureName:
		return "CONFIGURE_NAME"
	case StepConfigureOrientation:
		return "CONFIGURE_ORIENTATION"
	case StepConfigurePassword:
		return "CONFIGURE_PASSWORD"
	case StepComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// WifiStatus is the user-visible state of the WiFi sub-flow.
type WifiStatus struct {
	// Waiting is true while credentials are written and the outcome is
	// still open.
	Waiting bool

	// Failed is true when the last attempt ended in failure; the flow
	// stays in the WiFi step for a retry.
	Failed bool

	// Message is a display string ("connecting...", "timed out", ...).
	Message string
}
