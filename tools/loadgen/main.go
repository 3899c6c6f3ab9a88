// loadgen posts synthetic distribution requests at the engine for
// local testing. It is a development tool and not part of the engine.
//
// Usage:
//
//	go run ./tools/loadgen -target http://localhost:8080 -jobs 10 -recipients 25
package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

type recipient struct {
	ContactAddress string `json:"contact_address"`
	Channel        string `json:"channel"`
}

type distribution struct {
	MinutesID  string      `json:"minutes_id"`
	MeetingID  string      `json:"meeting_id"`
	Subject    string      `json:"subject"`
	TextBody   string      `json:"text_body"`
	Recipients []recipient `json:"recipients"`
}

func main() {
	target := flag.String("target", "http://localhost:8080", "engine base URL")
	jobs := flag.Int("jobs", 10, "number of distributions to submit")
	recipients := flag.Int("recipients", 25, "recipients per distribution")
	interval := flag.Duration("interval", 100*time.Millisecond, "delay between submissions")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	accepted := 0

	for i := 0; i < *jobs; i++ {
		dist := distribution{
			MinutesID: randomUUID(),
			MeetingID: randomUUID(),
			Subject:   fmt.Sprintf("Load test minutes %d", i),
			TextBody:  "Synthetic minutes body for load testing.",
		}
		for r := 0; r < *recipients; r++ {
			dist.Recipients = append(dist.Recipients, recipient{
				ContactAddress: fmt.Sprintf("load-%d-%d@example.com", i, r),
				Channel:        "email",
			})
		}

		payload, err := json.Marshal(dist)
		if err != nil {
			log.Fatalf("marshal: %v", err)
		}

		resp, err := client.Post(*target+"/distributions", "application/json", bytes.NewReader(payload))
		if err != nil {
			log.Printf("submit %d failed: %v", i, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusAccepted {
			accepted++
		} else {
			log.Printf("submit %d rejected: %s", i, resp.Status)
		}

		time.Sleep(*interval)
	}

	fmt.Printf("submitted=%d accepted=%d\n", *jobs, accepted)
	if accepted != *jobs {
		os.Exit(1)
	}
}

// randomUUID builds a v4 UUID without pulling a dependency into the tool.
func randomUUID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		log.Fatalf("rand: %v", err)
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
