// Package webcam opens V4L2 style video devices through pion/mediadevices.
//
// Every video node the system exposes becomes one sensor: a node whose formats are all Z16 is a
// depth sensor, any other node is a color sensor. RGB-D cameras such as the RealSense expose
// their sensors as separate nodes, so a device URI names one node, or a color node and a depth
// node joined by "+". Opening AnyDevice pairs the first free color node with the first free
// depth node.
//
// These nodes share no clock and no optics, so frame sync and registration are not supported.
package webcam

import (
	"context"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/driver/availability"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/sensor"
)

// DriverName is the registry name of the webcam driver.
const DriverName = "webcam"

// URISeparator joins the color and depth node of a device URI.
const URISeparator = "+"

// assumedFrameRate is used for formats whose driver does not report a frame interval.
const assumedFrameRate = 30

func init() {
	sensor.RegisterDriver(NewDriver(nil))
}

// A Driver discovers mediadevices video drivers and opens them as devices.
type Driver struct {
	getDrivers func() []driver.Driver
	clock      clock.Clock

	mu    sync.Mutex
	inUse map[string]bool
}

// NewDriver returns a webcam driver. getDrivers lists the candidate video drivers; nil uses
// every video recorder mediadevices knows about.
func NewDriver(getDrivers func() []driver.Driver) *Driver {
	if getDrivers == nil {
		getDrivers = func() []driver.Driver {
			mediadevicescamera.Initialize()
			return driver.GetManager().Query(driver.FilterVideoRecorder())
		}
	}
	return &Driver{getDrivers: getDrivers, clock: clock.New(), inUse: map[string]bool{}}
}

// Name implements sensor.Driver.
func (d *Driver) Name() string {
	return DriverName
}

// node is one mediadevices video driver seen as a single sensor.
type node struct {
	driver  driver.Driver
	label   string
	name    string
	sensor  sensor.Type
	modes   []sensor.VideoMode
	formats map[sensor.VideoMode]frame.Format
}

// nodeLabel returns the device path part of a driver label.
func nodeLabel(d driver.Driver) string {
	return strings.Split(d.Info().Label, mediadevicescamera.LabelSeparator)[0]
}

// getDriverProperties returns the media properties of d, opening it first if needed.
func getDriverProperties(d driver.Driver) (_ []prop.Media, err error) {
	if d.Status() == driver.StateClosed {
		if errOpen := d.Open(); errOpen != nil {
			return nil, errOpen
		}
		defer func() {
			err = multierr.Combine(err, d.Close())
		}()
	}
	return d.Properties(), nil
}

// inspect describes d as a node, or returns false if it offers no usable format.
func inspect(ctx context.Context, d driver.Driver, logger logging.Logger) (*node, bool) {
	label := nodeLabel(d)
	if d.Status() == driver.StateRunning {
		// A running driver can not be inspected without disturbing its owner.
		return &node{driver: d, label: label, name: d.Info().Name}, true
	}
	props, err := getDriverProperties(d)
	if err != nil {
		logger.CDebugw(ctx, "cannot access driver properties, skipping", "driver", label, "error", err)
		return nil, false
	}
	n := &node{driver: d, label: label, name: d.Info().Name, formats: map[sensor.VideoMode]frame.Format{}}
	depthOnly := len(props) > 0
	for _, p := range props {
		if p.FrameFormat != frame.FormatZ16 {
			depthOnly = false
		}
	}
	n.sensor = sensor.Color
	if depthOnly {
		n.sensor = sensor.Depth
	}
	for _, p := range props {
		if (p.FrameFormat == frame.FormatZ16) != depthOnly || p.Width <= 0 || p.Height <= 0 {
			continue
		}
		fps := assumedFrameRate
		if p.FrameRate > 0 {
			fps = int(math.Round(float64(p.FrameRate)))
		}
		mode := sensor.VideoMode{
			Width:       p.Width,
			Height:      p.Height,
			FPS:         fps,
			PixelFormat: sensor.DefaultPixelFormat(n.sensor),
		}
		if _, ok := n.formats[mode]; ok {
			continue
		}
		n.formats[mode] = p.FrameFormat
		n.modes = append(n.modes, mode)
	}
	if len(n.modes) == 0 {
		logger.CDebugw(ctx, "no usable formats for driver, skipping", "driver", label)
		return nil, false
	}
	return n, true
}

func (d *Driver) nodes(ctx context.Context, logger logging.Logger) []*node {
	var nodes []*node
	for _, drv := range d.getDrivers() {
		if n, ok := inspect(ctx, drv, logger); ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Discover implements sensor.Driver. Each free node is listed on its own, and each free color
// node is also listed paired with every free depth node.
func (d *Driver) Discover(ctx context.Context) ([]sensor.DeviceInfo, error) {
	logger := logging.Global().Sublogger(DriverName)
	var colors, depths []*node
	for _, n := range d.nodes(ctx, logger) {
		if n.driver.Status() == driver.StateRunning || d.busy(n.label) {
			continue
		}
		switch n.sensor {
		case sensor.Color:
			colors = append(colors, n)
		case sensor.Depth:
			depths = append(depths, n)
		}
	}
	var infos []sensor.DeviceInfo
	for _, c := range colors {
		for _, dn := range depths {
			infos = append(infos, deviceInfo(c, dn))
		}
	}
	for _, c := range colors {
		infos = append(infos, deviceInfo(c, nil))
	}
	for _, dn := range depths {
		infos = append(infos, deviceInfo(nil, dn))
	}
	return infos, nil
}

func deviceInfo(color, depth *node) sensor.DeviceInfo {
	var labels, names []string
	var sensors []sensor.Type
	for _, n := range []*node{color, depth} {
		if n == nil {
			continue
		}
		labels = append(labels, n.label)
		names = append(names, n.name)
		sensors = append(sensors, n.sensor)
	}
	return sensor.DeviceInfo{
		URI:     strings.Join(labels, URISeparator),
		Name:    strings.Join(names, URISeparator),
		Vendor:  DriverName,
		Sensors: sensors,
	}
}

func (d *Driver) busy(label string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inUse[label]
}

// Open implements sensor.Driver.
func (d *Driver) Open(ctx context.Context, uri string, logger logging.Logger) (sensor.Device, error) {
	logger = logger.Sublogger(DriverName)
	nodes := d.nodes(ctx, logger)

	var picked []*node
	if uri == sensor.AnyDevice {
		for _, want := range []sensor.Type{sensor.Color, sensor.Depth} {
			for _, n := range nodes {
				if n.sensor == want && n.driver.Status() != driver.StateRunning && !d.busy(n.label) {
					picked = append(picked, n)
					break
				}
			}
		}
		if len(picked) == 0 {
			return nil, sensor.NewDeviceNotFoundError(uri)
		}
	} else {
		for _, label := range strings.Split(uri, URISeparator) {
			idx := slices.IndexFunc(nodes, func(n *node) bool { return n.label == label })
			if idx < 0 {
				return nil, sensor.NewDeviceNotFoundError(uri)
			}
			picked = append(picked, nodes[idx])
		}
	}

	dev := &Device{
		driver: d,
		logger: logger,
		nodes:  map[sensor.Type]*node{},
	}
	var color, depth *node
	for _, n := range picked {
		if n.driver.Status() == driver.StateRunning {
			return nil, sensor.NewDeviceBusyError(n.label)
		}
		if _, ok := dev.nodes[n.sensor]; ok {
			return nil, errors.Errorf("device %q names two %s nodes", uri, n.sensor)
		}
		dev.nodes[n.sensor] = n
		if n.sensor == sensor.Color {
			color = n
		} else {
			depth = n
		}
	}
	dev.info = deviceInfo(color, depth)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range picked {
		if d.inUse[n.label] {
			return nil, sensor.NewDeviceBusyError(n.label)
		}
	}
	for _, n := range picked {
		d.inUse[n.label] = true
	}
	dev.streams = map[sensor.Type]*Stream{}
	logger.CDebugw(ctx, "opened device", "uri", dev.info.URI, "sensors", dev.info.Sensors)
	return dev, nil
}

func (d *Driver) release(nodes map[sensor.Type]*node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range nodes {
		delete(d.inUse, n.label)
	}
}

// connected reports whether the node's device is still plugged in. Only linux can tell; other
// platforms always report true.
func (n *node) connected() bool {
	_, err := driver.IsAvailable(n.driver)
	return !errors.Is(err, availability.ErrNoDevice)
}
