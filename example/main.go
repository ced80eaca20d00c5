package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/swdee/go-i2c"
	"github.com/swdee/go-vl53l1"
)

func main() {

	i2cbus := flag.String("b", "/dev/i2c-0", "Path to I2C bus to use")
	flag.Parse()

	// Open I2C bus (adjust bus number and default address as needed)
	conn, err := i2c.New(vl53l1.Address, *i2cbus)

	if err != nil {
		log.Fatal(err)
	}

	defer conn.Close()

	bus, err := vl53l1.NewI2CTransport(conn)

	if err != nil {
		log.Fatal(err)
	}

	// create new sensor instance running in Short mode with timing budget 50ms
	sensor, err := vl53l1.New(bus, vl53l1.WithDistanceMode(vl53l1.Short),
		vl53l1.WithTimingBudget(50))

	if err != nil {
		log.Fatal(err)
	}

	// define a region of interest.  This is not necessary so can be commented
	// out if not required.
	setROI(sensor)

	// Start continuous ranging, it is recommend by ST for the Period to be 5ms
	// longer than the Timing Budget (50 + 5ms = 55ms)
	if err := sensor.StartContinuous(55); err != nil {
		log.Fatalf("Start continuous failed: %v", err)
	}

	// Read a measurement
	for i := 0; i < 10; i++ {

		data, err := sensor.Read(true)

		if err != nil {
			log.Printf("Read error: %v", err)
		} else {
			fmt.Printf("Distance: %d mm (status: %s)\n", data.RangeMM,
				data.RangeStatus.String())
		}

		time.Sleep(200 * time.Millisecond)
	}

	// Stop continuous ranging
	if err := sensor.StopContinuous(); err != nil {
		log.Fatalf("Stop continuous failed: %v", err)
	}
}

// setROI sets the region of interest
func setROI(sensor *vl53l1.VL53L1) {

	// set sensor region of interest
	err := sensor.SetROISize(12, 12)

	if err != nil {
		log.Fatalf("Setting ROI Size failed: %v\n", err)
	}

	err = sensor.SetROICenter(199)

	if err != nil {
		log.Fatalf("Setting ROI Center failed: %v\n", err)
	}

	// load current region of interest setting
	width, height := sensor.GetROISize()

	log.Printf("Get ROI size: %dx%d\n", width, height)
	log.Printf("Get ROI center: %d\n", sensor.GetROICenter())
}
