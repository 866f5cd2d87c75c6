package household

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const householdCSV = `hid,dwelling_type_class,Long,Lat,electric_class,water_class,toilet_class,district
101,2,90.0,23.0,1,3,1,Feni
102,1,90.1,23.1,0,2,2,Feni
`

func TestReadHouseholds(t *testing.T) {
	hh, err := ReadHouseholds(strings.NewReader(householdCSV))
	require.NoError(t, err)
	require.Len(t, hh, 2)
	assert.Equal(t, Household{
		HID: "101", DwellingTypeClass: "2", Long: 90.0, Lat: 23.0,
		ElectricClass: "1", WaterClass: "3", ToiletClass: "1",
	}, hh[0])
	assert.Equal(t, "102", hh[1].HID)
	assert.InDelta(t, 90.1, hh[1].Long, 1e-12)
}

func TestReadHouseholds_HeaderOnly(t *testing.T) {
	hh, err := ReadHouseholds(strings.NewReader("hid,dwelling_type_class,Long,Lat,electric_class,water_class,toilet_class\n"))
	require.NoError(t, err)
	assert.Empty(t, hh)
}

func TestReadHouseholds_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"missing column", "hid,Long,Lat\n1,90,23\n"},
		{"bad coordinate", "hid,dwelling_type_class,Long,Lat,electric_class,water_class,toilet_class\n1,1,east,23,1,1,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadHouseholds(strings.NewReader(tt.in))
			require.Error(t, err)
		})
	}
}

func TestCheckUnique(t *testing.T) {
	require.NoError(t, CheckUnique([]Household{{HID: "1"}, {HID: "2"}}))

	err := CheckUnique([]Household{{HID: "1"}, {HID: "2"}, {HID: "1"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateHID))
	assert.Contains(t, err.Error(), "1")
}

func TestElectrified(t *testing.T) {
	assert.True(t, Electrified("1"))
	assert.True(t, Electrified("1.0"))
	assert.True(t, Electrified(" 1 "))
	assert.False(t, Electrified("0"))
	assert.False(t, Electrified("2"))
	assert.False(t, Electrified(""))
}

func TestParseOrigin(t *testing.T) {
	o, err := ParseOrigin("Urban")
	require.NoError(t, err)
	assert.Equal(t, Urban, o)

	_, err = ParseOrigin("peri-urban")
	require.Error(t, err)
}

func TestFileNames(t *testing.T) {
	assert.Equal(t, "rural_Coxs_Bazar.csv", FileName(Rural, "Coxs_Bazar"))
	assert.Equal(t, "urban_infra_access_Khulna.csv", AccessFileName(Urban, "Khulna"))
	assert.Equal(t, "rural_PCA_households.csv", WealthFileName(Rural))
}

func TestReadWealth(t *testing.T) {
	w, err := ReadWealth(strings.NewReader("hid,score,wealth_group\n1,0.3,Q1\n2,1.2,Q5\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, "Q5", w.Groups["2"])
	assert.Nil(t, w.Electric)

	w, err = ReadWealth(strings.NewReader("hid,wealth_group,electric_class\n1,Q2,1\n2,Q3,0\n"))
	require.NoError(t, err)
	require.NotNil(t, w.Electric)
	assert.Equal(t, "0", w.Electric["2"])
}

func TestReadWealth_Errors(t *testing.T) {
	_, err := ReadWealth(strings.NewReader("hid,wealth_group\n1,Q1\n1,Q2\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateHID))

	_, err = ReadWealth(strings.NewReader("hid,score\n1,0.3\n"))
	require.Error(t, err)

	_, err = ReadWealth(strings.NewReader(""))
	require.Error(t, err)
}

const linkCSV = `hid,dwelling_type_class,electric_class,polder,Polder no.,dist_hospital,dist_edu,id_hospital,id_edu
101,2,1,1,35/1,0.5,1.25,0,3
102,1,0,0,0,2,0.75,2,1.0
`

func TestReadLinks(t *testing.T) {
	links, err := ReadLinks(context.Background(), strings.NewReader(linkCSV), []string{"edu", "hospital"})
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, Link{HID: "101", ElectricClass: "1", IDs: []int{3, 0}}, links[0])
	assert.Equal(t, Link{HID: "102", ElectricClass: "0", IDs: []int{1, 2}}, links[1])
}

func TestReadLinks_NoKeys(t *testing.T) {
	links, err := ReadLinks(context.Background(), strings.NewReader(linkCSV), nil)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Empty(t, links[0].IDs)
}

func TestStreamLinks_MissingColumn(t *testing.T) {
	_, err := ReadLinks(context.Background(), strings.NewReader(linkCSV), []string{"shelter"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id_shelter")
}

func TestStreamLinks_BadID(t *testing.T) {
	in := "hid,id_edu\n1,0\n2,1.5\n"
	_, err := ReadLinks(context.Background(), strings.NewReader(in), []string{"edu"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")

	in = "hid,electric_class,id_edu\nh1,1,0\nh2,0,xyz\n"
	_, err = ReadLinks(context.Background(), strings.NewReader(in), []string{"edu"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2 column id_edu")
	assert.Contains(t, err.Error(), `invalid asset id "xyz"`)
}

func TestStreamLinks_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadLinks(ctx, strings.NewReader(linkCSV), []string{"edu"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestColumnNames(t *testing.T) {
	assert.Equal(t, "id_roadnode", IDColumn("roadnode"))
	assert.Equal(t, "dist_roadnode", DistColumn("roadnode"))
}
