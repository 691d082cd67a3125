package xmlview

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/uws"
)

// XML namespaces of the UWS 1.1 and VOSI documents.
const (
	nsUWS   = "http://www.ivoa.net/xml/UWS/v1.0"
	nsXSI   = "http://www.w3.org/2001/XMLSchema-instance"
	nsXlink = "http://www.w3.org/1999/xlink"
	nsAvail = "http://www.ivoa.net/xml/VOSIAvailability/v1.0"
	nsCap   = "http://www.ivoa.net/xml/VOSICapabilities/v1.0"
)

// nillableTime renders either the timestamp or an xsi:nil element, per the
// UWS schema.
type nillableTime struct {
	Nil   string `xml:"xsi:nil,attr,omitempty"`
	Value string `xml:",chardata"`
}

func nillable(t *string) nillableTime {
	if t == nil {
		return nillableTime{Nil: "true"}
	}
	return nillableTime{Value: *t}
}

type parameterXML struct {
	ID     string `xml:"id,attr"`
	IsPost string `xml:"isPost,attr,omitempty"`
	Value  string `xml:",chardata"`
}

type parametersXML struct {
	Parameters []parameterXML `xml:"uws:parameter"`
}

type resultXML struct {
	ID       string `xml:"id,attr"`
	Href     string `xml:"xlink:href,attr"`
	Size     string `xml:"size,attr,omitempty"`
	MimeType string `xml:"mime-type,attr,omitempty"`
}

type resultsXML struct {
	Results []resultXML `xml:"uws:result"`
}

type errorSummaryXML struct {
	Type      string `xml:"type,attr"`
	HasDetail string `xml:"hasDetail,attr"`
	Message   string `xml:"uws:message"`
}

type jobXML struct {
	XMLName    xml.Name `xml:"uws:job"`
	XmlnsUWS   string   `xml:"xmlns:uws,attr"`
	XmlnsXSI   string   `xml:"xmlns:xsi,attr"`
	XmlnsXlink string   `xml:"xmlns:xlink,attr"`
	Version    string   `xml:"version,attr"`

	JobID             string           `xml:"uws:jobId"`
	RunID             string           `xml:"uws:runId,omitempty"`
	OwnerID           string           `xml:"uws:ownerId"`
	Phase             string           `xml:"uws:phase"`
	Quote             nillableTime     `xml:"uws:quote"`
	CreationTime      string           `xml:"uws:creationTime"`
	StartTime         nillableTime     `xml:"uws:startTime"`
	EndTime           nillableTime     `xml:"uws:endTime"`
	ExecutionDuration int              `xml:"uws:executionDuration"`
	Destruction       string           `xml:"uws:destruction"`
	Parameters        *parametersXML   `xml:"uws:parameters,omitempty"`
	Results           *resultsXML      `xml:"uws:results,omitempty"`
	ErrorSummary      *errorSummaryXML `xml:"uws:errorSummary,omitempty"`
}

func optionalTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := uws.FormatTimestamp(*t)
	return &s
}

// RenderJob serializes a full job document. signedURLs maps result ids to the
// client-facing URLs produced by the result signer; results without an entry
// fall back to their stored URL.
func RenderJob(job *uws.Job, signedURLs map[string]string) ([]byte, error) {
	doc := jobXML{
		XmlnsUWS:          nsUWS,
		XmlnsXSI:          nsXSI,
		XmlnsXlink:        nsXlink,
		Version:           "1.1",
		JobID:             job.ID,
		RunID:             job.RunID,
		OwnerID:           job.Owner,
		Phase:             string(job.Phase),
		CreationTime:      uws.FormatTimestamp(job.CreationTime),
		Quote:             nillable(optionalTimestamp(job.Quote)),
		StartTime:         nillable(optionalTimestamp(job.StartTime)),
		EndTime:           nillable(optionalTimestamp(job.EndTime)),
		ExecutionDuration: job.ExecutionDuration,
		Destruction:       uws.FormatTimestamp(job.DestructionTime),
	}
	if len(job.Parameters) > 0 {
		params := &parametersXML{}
		for _, p := range job.Parameters {
			px := parameterXML{ID: p.ID, Value: p.Value}
			if p.IsPost {
				px.IsPost = "true"
			}
			params.Parameters = append(params.Parameters, px)
		}
		doc.Parameters = params
	}
	if len(job.Results) > 0 {
		results := &resultsXML{}
		for _, r := range job.Results {
			href := r.URL
			if signed, ok := signedURLs[r.ResultID]; ok {
				href = signed
			}
			rx := resultXML{ID: r.ResultID, Href: href, MimeType: r.MimeType}
			if r.Size != nil {
				rx.Size = strconv.FormatInt(*r.Size, 10)
			}
			results.Results = append(results.Results, rx)
		}
		doc.Results = results
	}
	if job.Error != nil {
		hasDetail := "false"
		if job.Error.Detail != "" {
			hasDetail = "true"
		}
		doc.ErrorSummary = &errorSummaryXML{
			Type:      string(job.Error.Type),
			HasDetail: hasDetail,
			Message:   job.Error.Message,
		}
	}
	return marshalDocument(doc)
}

type jobRefXML struct {
	ID           string `xml:"id,attr"`
	Href         string `xml:"xlink:href,attr"`
	Phase        string `xml:"uws:phase"`
	RunID        string `xml:"uws:runId,omitempty"`
	OwnerID      string `xml:"uws:ownerId"`
	CreationTime string `xml:"uws:creationTime"`
}

type jobListXML struct {
	XMLName    xml.Name    `xml:"uws:jobs"`
	XmlnsUWS   string      `xml:"xmlns:uws,attr"`
	XmlnsXlink string      `xml:"xmlns:xlink,attr"`
	Version    string      `xml:"version,attr"`
	Jobs       []jobRefXML `xml:"uws:jobref"`
}

// RenderJobList serializes the abbreviated job listing. baseURL is the
// absolute URL of the job collection.
func RenderJobList(jobs []uws.JobDescription, baseURL string) ([]byte, error) {
	doc := jobListXML{
		XmlnsUWS:   nsUWS,
		XmlnsXlink: nsXlink,
		Version:    "1.1",
	}
	for _, j := range jobs {
		doc.Jobs = append(doc.Jobs, jobRefXML{
			ID:           j.ID,
			Href:         fmt.Sprintf("%s/%s", baseURL, j.ID),
			Phase:        string(j.Phase),
			RunID:        j.RunID,
			OwnerID:      j.Owner,
			CreationTime: uws.FormatTimestamp(j.CreationTime),
		})
	}
	return marshalDocument(doc)
}

type availabilityXML struct {
	XMLName   xml.Name `xml:"vosi:availability"`
	XmlnsVOSI string   `xml:"xmlns:vosi,attr"`
	Available bool     `xml:"vosi:available"`
	Note      string   `xml:"vosi:note,omitempty"`
}

func RenderAvailability(avail uws.Availability) ([]byte, error) {
	return marshalDocument(availabilityXML{
		XmlnsVOSI: nsAvail,
		Available: avail.Available,
		Note:      avail.Note,
	})
}

type capabilityInterfaceXML struct {
	Type      string `xml:"xsi:type,attr"`
	AccessURL struct {
		Use   string `xml:"use,attr"`
		Value string `xml:",chardata"`
	} `xml:"accessURL"`
}

type capabilityXML struct {
	StandardID string                 `xml:"standardID,attr"`
	Interface  capabilityInterfaceXML `xml:"interface"`
}

type capabilitiesXML struct {
	XMLName      xml.Name        `xml:"capabilities"`
	Xmlns        string          `xml:"xmlns,attr"`
	XmlnsXSI     string          `xml:"xmlns:xsi,attr"`
	Capabilities []capabilityXML `xml:"capability"`
}

// RenderCapabilities lists the SODA sync and async endpoints rooted at
// baseURL.
func RenderCapabilities(baseURL string) ([]byte, error) {
	doc := capabilitiesXML{
		Xmlns:    nsCap,
		XmlnsXSI: nsXSI,
	}
	sync := capabilityXML{StandardID: "ivo://ivoa.net/std/SODA#sync-1.0"}
	sync.Interface.Type = "vod:ParamHTTP"
	sync.Interface.AccessURL.Use = "full"
	sync.Interface.AccessURL.Value = baseURL + "/sync"
	async := capabilityXML{StandardID: "ivo://ivoa.net/std/SODA#async-1.0"}
	async.Interface.Type = "vod:ParamHTTP"
	async.Interface.AccessURL.Use = "full"
	async.Interface.AccessURL.Value = baseURL + "/jobs"
	doc.Capabilities = []capabilityXML{sync, async}
	return marshalDocument(doc)
}

func marshalDocument(doc any) ([]byte, error) {
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
