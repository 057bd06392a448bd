// pcap-replay extracts tracker traffic from a packet capture and emits it as
// capture-log lines on stdout, one hex frame per line. The output feeds
// straight into avlcat:
//
//	pcap-replay -file gateway.pcap | avlcat decode -
//
// Only client-to-gateway TCP payloads on the ingest port are considered;
// each TCP flow is scanned independently, so interleaved sessions come out
// intact.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/waypoint-data/fleetgate/internal/avl/codec"
	"github.com/waypoint-data/fleetgate/internal/config"
	"github.com/waypoint-data/fleetgate/internal/rawlog"
)

var (
	file = flag.String("file", "", "pcap file to read (required)")
	port = flag.Int("port", config.FromEnv().TCPPort, "gateway ingest port")
)

func main() {
	log.SetFlags(0)
	flag.Parse()
	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("open pcap: %v", err)
	}
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	if err != nil {
		log.Fatalf("read pcap: %v", err)
	}

	flows := map[string]*flow{}
	source := gopacket.NewPacketSource(r, r.LinkType())
	for packet := range source.Packets() {
		handlePacket(packet, uint16(*port), flows)
	}

	total := 0
	for _, fl := range flows {
		total += fl.frames
		if len(fl.buf) > 0 {
			log.Printf("flow %s: %d trailing bytes never formed a frame", fl.id, len(fl.buf))
		}
	}
	if total == 0 {
		log.Fatalf("no tracker frames on port %d", *port)
	}
	log.Printf("extracted %d frames from %d flows", total, len(flows))
}

// flow is the client-to-gateway byte stream of one TCP connection.
type flow struct {
	id     string
	imei   string
	buf    []byte
	authed bool
	frames int
	out    io.Writer
}

func handlePacket(packet gopacket.Packet, port uint16, flows map[string]*flow) {
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return
	}
	tcp := tcpLayer.(*layers.TCP)
	if uint16(tcp.DstPort) != port || len(tcp.Payload) == 0 {
		return
	}
	net := packet.NetworkLayer()
	if net == nil {
		return
	}

	id := fmt.Sprintf("%s:%d", net.NetworkFlow().Src(), tcp.SrcPort)
	fl := flows[id]
	if fl == nil {
		fl = &flow{id: id, out: os.Stdout}
		flows[id] = fl
	}
	at := time.Now().UTC()
	if meta := packet.Metadata(); meta != nil {
		at = meta.Timestamp.UTC()
	}
	fl.feed(at, tcp.Payload)
}

// feed appends payload bytes and drains everything complete: the login
// message first, frames after it.
func (fl *flow) feed(at time.Time, payload []byte) {
	fl.buf = append(fl.buf, payload...)

	if !fl.authed {
		if !fl.scanLogin() {
			return
		}
	}
	for {
		if !codec.ValidPreamble(fl.buf) {
			if len(fl.buf) >= codec.PreambleSize {
				log.Printf("flow %s: lost frame alignment, dropping %d bytes", fl.id, len(fl.buf))
				fl.buf = nil
			}
			return
		}
		size, ok := codec.FrameSize(fl.buf)
		if !ok || len(fl.buf) < size {
			return
		}
		fl.emit(at, fl.buf[:size])
		fl.buf = fl.buf[size:]
	}
}

// scanLogin consumes the length-prefixed IMEI message. Returns false while
// more bytes are needed.
func (fl *flow) scanLogin() bool {
	if len(fl.buf) < 2 {
		return false
	}
	n := int(binary.BigEndian.Uint16(fl.buf))
	if len(fl.buf) < 2+n {
		return false
	}
	imei := string(fl.buf[2 : 2+n])
	fl.buf = fl.buf[2+n:]
	fl.authed = true
	if len(imei) == 15 {
		fl.imei = imei
	} else {
		log.Printf("flow %s: odd login payload %q", fl.id, imei)
	}
	return true
}

func (fl *flow) emit(at time.Time, frame []byte) {
	imei := fl.imei
	if imei == "" {
		imei = "-"
	}
	fmt.Fprintf(fl.out, "%s %s %s %x\n", at.Format(rawlog.TimeLayout), fl.id, imei, frame)
	fl.frames++
}
