package oracle

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bashog/marketsim/pkg/core"
)

const sampleCSV = `internal_timestamp,side,price,volume,qid
2024-05-01T09:30:00Z,BUY,100,5,q1
2024-05-01T09:30:00Z,SELL,105,3,q2
2024-05-01T09:30:02Z,ASK,104,7,q3
2024-05-01T09:30:01Z,B,99,2,q4
`

func TestParseCSV(t *testing.T) {
	records, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, core.Buy, records[0].Side)
	assert.Equal(t, int64(100), records[0].Price)
	assert.Equal(t, int64(5), records[0].Volume)
	assert.Equal(t, "q1", records[0].ExternalID)

	// Side aliases map onto the two sides.
	assert.Equal(t, core.Sell, records[1].Side)
	assert.Equal(t, core.Sell, records[2].Side)
	assert.Equal(t, core.Buy, records[3].Side)
}

func TestParseCSVHeaderErrors(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrBadHeader)

	_, err = ParseCSV(strings.NewReader("internal_timestamp,side,price,volume\n"))
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestParseCSVColumnOrderIndependent(t *testing.T) {
	shuffled := `qid,volume,price,side,internal_timestamp
q1,5,100,BUY,2024-05-01T09:30:00Z
`
	records, err := ParseCSV(strings.NewReader(shuffled))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(100), records[0].Price)
	assert.Equal(t, int64(5), records[0].Volume)
}

func TestParseCSVRowErrors(t *testing.T) {
	cases := []struct {
		name string
		row  string
		want error
	}{
		{"bad timestamp", "yesterday,BUY,100,5,q1", ErrBadTimeVal},
		{"bad side", "2024-05-01T09:30:00Z,HOLD,100,5,q1", ErrBadSide},
		{"bad price", "2024-05-01T09:30:00Z,BUY,abc,5,q1", ErrBadPrice},
		{"zero price", "2024-05-01T09:30:00Z,BUY,0,5,q1", ErrBadPrice},
		{"bad volume", "2024-05-01T09:30:00Z,BUY,100,-2,q1", ErrBadVolume},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := "internal_timestamp,side,price,volume,qid\n" + tc.row + "\n"
			_, err := ParseCSV(strings.NewReader(input))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestFromRecordsGroupsAndSorts(t *testing.T) {
	records, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	seq := core.NewSequencer()
	o, err := FromRecords("ABM", records, seq)
	require.NoError(t, err)

	assert.Equal(t, "ABM", o.Symbol())

	stamps := o.Timestamps()
	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		assert.True(t, stamps[i-1].Before(stamps[i]), "timestamps must be sorted")
	}
	assert.Equal(t, stamps[0], o.StartTime())
	assert.Equal(t, stamps[2], o.EndTime())

	first := o.Orders(stamps[0])
	require.Len(t, first, 2, "equal timestamps group together")
	assert.Equal(t, int64(100), first[0].Price())
	assert.Equal(t, int64(105), first[1].Price())

	// Ids follow timestamp order even though the rows arrived shuffled.
	var prev uint64
	for _, ts := range stamps {
		for _, order := range o.Orders(ts) {
			assert.Greater(t, order.ID(), prev)
			prev = order.ID()
			assert.Empty(t, order.AgentID(), "replayed orders carry no agent id")
			assert.True(t, order.IsLimitOrder())
		}
	}
}

func TestFromRecordsEmpty(t *testing.T) {
	_, err := FromRecords("ABM", nil, core.NewSequencer())
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestOrdersUnknownTimestamp(t *testing.T) {
	records, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	o, err := FromRecords("ABM", records, core.NewSequencer())
	require.NoError(t, err)

	assert.Nil(t, o.Orders(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)))
}
