// gigetest opens the first camera found, runs a short continuous acquisition
// and takes one single shot, printing timings along the way
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"

	"github.jpl.nasa.gov/bdube/gigeproxy/gige"
	"github.jpl.nasa.gov/bdube/gigeproxy/proxy"
)

func main() {
	var (
		driver  = flag.String("driver", "sim", "SDK driver to use")
		class   = flag.String("class", string(gige.ClassGigE), "transport layer, GigE or 1394")
		format  = flag.String("fmt", gige.Mono16, "pixel format")
		nbuf    = flag.Int("buffers", 4, "number of ring buffers")
		nframes = flag.Int("frames", 50, "number of continuous frames to grab")
		out     = flag.String("out", "", "if not empty, the single shot is written to this file")
		verbose = flag.Bool("v", false, "print every proxy message")
	)
	flag.Parse()

	log := logrus.New()
	if !*verbose {
		log.SetLevel(logrus.WarnLevel)
	}
	rt, err := gige.Lookup(*driver)
	if err != nil {
		fmt.Println(err, "available:", gige.Drivers())
		os.Exit(1)
	}

	spinner, _ := yacspin.New(yacspin.Config{
		Frequency:     100 * time.Millisecond,
		CharSet:       yacspin.CharSets[11],
		Suffix:        " opening camera",
		StopCharacter: "✓",
	})
	if spinner != nil {
		spinner.Start()
	}
	cfg := proxy.DefaultConfig()
	cfg.DeviceClass = gige.DeviceClass(*class)
	cfg.PixelFormat = *format
	start := time.Now()
	p, err := proxy.Open(proxy.NewDriver(rt), cfg, proxy.WithReporter(proxy.LogReporter{Log: log}))
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer p.Close()
	info, _ := p.DeviceInfo()
	fmt.Printf("opened %s %s in %v: %dx%d, %d bytes per frame\n",
		info.Model, info.SerialNumber, time.Since(start), p.Width(), p.Height(), p.PayloadSize())

	size := p.PayloadSize()
	ring := make([]byte, *nbuf*size)
	if err = p.StartContinuous(ring, *nbuf, size); err != nil {
		fmt.Println(err)
		return
	}
	start = time.Now()
	got, failed := 0, 0
	for got+failed < *nframes {
		idx, err := p.GetFrame()
		if err != nil {
			failed++
			continue
		}
		got++
		p.Requeue(idx)
	}
	elapsed := time.Since(start)
	if err = p.StopContinuous(); err != nil {
		fmt.Println(err)
	}
	fmt.Printf("continuous: %d frames, %d failed, in %v (%.1f fps)\n",
		got, failed, elapsed, float64(got)/elapsed.Seconds())

	buf := make([]byte, size)
	start = time.Now()
	if err = p.Acquire(buf); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("single shot in %v, %d buffers outstanding\n", time.Since(start), p.Outstanding())
	if *out != "" {
		if err = ioutil.WriteFile(*out, buf, 0666); err != nil {
			fmt.Println(err)
		}
	}
}
