/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ptp "github.com/facebook/ptpd/ptp/protocol"
)

// flags
var decodeDumpFlag bool

func init() {
	RootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVarP(&decodeDumpFlag, "dump", "d", false, "Dump every decoded message instead of a summary table")
}

// decodedPacket is one PTP message found in a capture
type decodedPacket struct {
	TS  time.Time
	Src string
	Dst string
	Msg *ptp.Message
	Err error
}

// packetHandle abstracts packet handles provided by pcapgo.Reader and pcapgo.NGReader
type packetHandle interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func openCapture(r io.ReadSeeker) (packetHandle, error) {
	// try NGReader, if it fails - fall back to Reader
	handle, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if err == nil {
		return handle, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return pcapgo.NewReader(r)
}

// decodeCapture returns every UDP 319/320 payload of the capture, decoded
func decodeCapture(r io.ReadSeeker) ([]decodedPacket, error) {
	handle, err := openCapture(r)
	if err != nil {
		return nil, fmt.Errorf("reading capture: %w", err)
	}
	var res []decodedPacket
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range packetSource.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, _ := udpLayer.(*layers.UDP)
		if !isPTPPort(udp.SrcPort) && !isPTPPort(udp.DstPort) {
			continue
		}
		var srcIP, dstIP net.IP
		if ip6, ok := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
			srcIP, dstIP = ip6.SrcIP, ip6.DstIP
		} else if ip4, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
			srcIP, dstIP = ip4.SrcIP, ip4.DstIP
		}
		d := decodedPacket{
			TS:  packet.Metadata().Timestamp,
			Src: net.JoinHostPort(srcIP.String(), strconv.Itoa(int(udp.SrcPort))),
			Dst: net.JoinHostPort(dstIP.String(), strconv.Itoa(int(udp.DstPort))),
		}
		d.Msg, d.Err = ptp.Unpack(udp.Payload)
		res = append(res, d)
	}
	return res, nil
}

func isPTPPort(p layers.UDPPort) bool {
	return p == ptp.PortEvent || p == ptp.PortGeneral
}

func decodedRows(packets []decodedPacket) [][]string {
	rows := make([][]string, 0, len(packets))
	for _, d := range packets {
		row := []string{d.TS.UTC().Format(time.RFC3339Nano), d.Src, d.Dst}
		if d.Err != nil {
			row = append(row, "", "", "", "", d.Err.Error())
			rows = append(rows, row)
			continue
		}
		m := d.Msg
		row = append(row,
			m.MessageType().String(),
			strconv.Itoa(int(m.SequenceID)),
			strconv.Itoa(int(m.DomainNumber)),
			strconv.Itoa(len(m.TLVs)),
			"",
		)
		rows = append(rows, row)
	}
	return rows
}

func decodeRun(w io.Writer, path string, dump bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	packets, err := decodeCapture(f)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	if !dump {
		return renderTable(w, []string{"time", "src", "dst", "type", "seq", "domain", "tlvs", "error"}, decodedRows(packets))
	}
	for _, d := range packets {
		spew.Fprintf(w, "%s %s -> %s\n", d.TS.UTC().Format(time.RFC3339Nano), d.Src, d.Dst)
		if d.Err != nil {
			spew.Fprintf(w, "error: %v\n", d.Err)
			continue
		}
		spew.Fdump(w, d.Msg)
	}
	return nil
}

var decodeCmd = &cobra.Command{
	Use:   "decode <file.pcap>",
	Short: "Decode PTP messages from a pcap or pcapng capture",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()

		if err := decodeRun(os.Stdout, args[0], decodeDumpFlag); err != nil {
			log.Fatal(err)
		}
	},
}
