// Package register registers all sensor drivers.
package register

import (
	// register drivers.
	_ "go.viam.com/rgbdview/sensor/fake"
	_ "go.viam.com/rgbdview/sensor/webcam"
)
