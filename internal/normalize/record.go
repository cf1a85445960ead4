package normalize

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/logsentinel/logsentinel/internal/types"
)

// Record maps a structured channel record onto an Event. Fields not
// promoted to a first-class Event attribute are kept in Details. When the
// payload is an <Event> XML document (Sysmon and Windows-style exports)
// its System and EventData sections take precedence over the record's
// own attributes.
func Record(rec types.RawRecord, now time.Time) *types.Event {
	ev := &types.Event{
		Timestamp: rec.Timestamp,
		Provider:  rec.Provider,
		Code:      rec.Code,
		Level:     types.LevelFromOrdinal(rec.Level),
		Host:      rec.Host,
		User:      rec.User,
		Process:   rec.Process,
		Message:   strings.TrimSpace(rec.Message),
		Raw:       rec.Payload,
		Source:    types.SourceChannel,
	}
	details := make(map[string]any, len(rec.Fields)+4)
	for k, v := range rec.Fields {
		details[k] = v
	}

	var data map[string]string
	if doc, ok := parseEventXML(rec.Payload); ok {
		data = doc.data()
		applySystem(ev, &doc.System)
		for k, v := range data {
			details[k] = v
		}
	} else {
		data = rec.Fields
	}

	if ev.Provider == "" {
		ev.Provider = "Unknown"
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	if ev.Host == "" {
		ev.Host = localHost()
	}
	if ev.User == "" {
		ev.User = "SYSTEM"
	}

	if code, ok := ev.CodeValue(); ok && IsSysmon(ev.Provider) {
		classifySysmon(ev, code, data)
	}
	if ev.Message == "" {
		ev.Message = ev.Action
	}

	details["provider"] = ev.Provider
	details["computer"] = ev.Host
	if rec.Channel != "" {
		details["channel"] = rec.Channel
	}
	if code, ok := ev.CodeValue(); ok {
		details["event_id"] = code
	}
	ev.Details = details
	return ev
}

// IsSysmon reports whether provider names a Sysmon event source.
func IsSysmon(provider string) bool {
	return strings.Contains(strings.ToLower(provider), "sysmon")
}

type eventXML struct {
	XMLName   xml.Name     `xml:"Event"`
	System    systemXML    `xml:"System"`
	EventData eventDataXML `xml:"EventData"`
}

type systemXML struct {
	Provider struct {
		Name string `xml:"Name,attr"`
	} `xml:"Provider"`
	EventID     string `xml:"EventID"`
	Level       string `xml:"Level"`
	TimeCreated struct {
		SystemTime string `xml:"SystemTime,attr"`
	} `xml:"TimeCreated"`
	Computer string `xml:"Computer"`
	Security struct {
		UserID string `xml:"UserID,attr"`
	} `xml:"Security"`
}

type eventDataXML struct {
	Data []struct {
		Name  string `xml:"Name,attr"`
		Value string `xml:",chardata"`
	} `xml:"Data"`
}

func (e *eventXML) data() map[string]string {
	out := make(map[string]string, len(e.EventData.Data))
	for _, d := range e.EventData.Data {
		if d.Name == "" {
			continue
		}
		out[d.Name] = strings.TrimSpace(d.Value)
	}
	return out
}

func parseEventXML(payload string) (*eventXML, bool) {
	s := strings.TrimSpace(payload)
	if !strings.HasPrefix(s, "<Event") {
		return nil, false
	}
	var doc eventXML
	if err := xml.Unmarshal([]byte(s), &doc); err != nil {
		return nil, false
	}
	return &doc, true
}

func applySystem(ev *types.Event, sys *systemXML) {
	if sys.Provider.Name != "" {
		ev.Provider = sys.Provider.Name
	}
	if n, err := strconv.Atoi(strings.TrimSpace(sys.EventID)); err == nil {
		ev.Code = types.Code(n)
	}
	if n, err := strconv.Atoi(strings.TrimSpace(sys.Level)); err == nil && n > 0 {
		ev.Level = types.LevelFromOrdinal(n)
	}
	if sys.Computer != "" {
		ev.Host = sys.Computer
	}
	if sys.Security.UserID != "" {
		ev.User = sys.Security.UserID
	}
	if ts, err := time.Parse(time.RFC3339Nano, sys.TimeCreated.SystemTime); err == nil {
		ev.Timestamp = ts
	}
}

func classifySysmon(ev *types.Event, code int, data map[string]string) {
	ev.Action = SysmonAction(code)
	ev.Object = sysmonObject(code, data)
	if v := data["Image"]; v != "" {
		ev.Process = v
	}
	if v := data["ParentImage"]; v != "" {
		ev.ParentProcess = v
	}
	if v := data["User"]; v != "" {
		ev.User = v
	}
}

var sysmonActions = map[int]string{
	1:  "Process Create",
	2:  "File Creation Time Changed",
	3:  "Network Connection",
	5:  "Process Terminated",
	6:  "Driver Loaded",
	7:  "Image Loaded",
	8:  "CreateRemoteThread",
	9:  "RawAccessRead",
	10: "Process Access",
	11: "File Created",
	12: "Registry Event (Object create/delete)",
	13: "Registry Event (Value Set)",
	14: "Registry Event (Key/Value Rename)",
	15: "File Create Stream Hash",
	17: "Pipe Created",
	18: "Pipe Connected",
	19: "WMI Event Filter",
	20: "WMI Event Consumer",
	21: "WMI Event Consumer To Filter",
	22: "DNS Query",
	23: "File Delete",
	24: "Clipboard Change",
	25: "Process Tampering",
	26: "File Delete Detected",
	27: "File Block Executable",
	28: "File Block Shredding",
	29: "File Executable Detected",
}

// SysmonAction names the Sysmon event kind for code.
func SysmonAction(code int) string {
	if a, ok := sysmonActions[code]; ok {
		return a
	}
	return "Sysmon Event " + strconv.Itoa(code)
}

func sysmonObject(code int, data map[string]string) string {
	switch code {
	case 1:
		return data["Image"]
	case 3:
		return data["DestinationIp"] + ":" + data["DestinationPort"]
	case 7:
		return data["ImageLoaded"]
	case 11, 23:
		return data["TargetFilename"]
	case 13:
		return data["TargetObject"]
	case 22:
		return data["QueryName"]
	}
	for _, k := range []string{"TargetObject", "TargetFilename", "ImageLoaded"} {
		if v := data[k]; v != "" {
			return v
		}
	}
	return ""
}
